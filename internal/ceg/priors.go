package ceg

import (
	"time"

	"github.com/ceglabs/ceg/internal/domain"
)

// prior is one row of the Domain Priors table of spec.md §4.8: a base
// conf_prior strength, the expected directional sign, and the expected
// lag interval between cause and effect.
type prior struct {
	confPrior float64
	sign      domain.Sign
	lag       domain.Lag
}

type priorKey struct {
	cause  domain.EventType
	effect domain.EventType
}

func lag(min, max time.Duration) domain.Lag {
	return domain.Lag{Min: min, Max: max}
}

// domainPriors is deliberately small and conservative: only pairs with a
// well-understood market mechanism get a non-zero prior. Everything else
// falls through to 0, per spec.md §4.8 ("0 if absent").
var domainPriors = map[priorKey]prior{
	{domain.EventSanctions, domain.EventStockDrop}:        {0.7, domain.SignNegative, lag(0, 3*24*time.Hour)},
	{domain.EventSanctions, domain.EventRubDepreciation}:  {0.6, domain.SignNegative, lag(0, 5*24*time.Hour)},
	{domain.EventSanctions, domain.EventSupplyChain}:      {0.5, domain.SignNegative, lag(24*time.Hour, 30*24*time.Hour)},

	{domain.EventRateHike, domain.EventStockDrop}:         {0.55, domain.SignNegative, lag(0, 2*24*time.Hour)},
	{domain.EventRateHike, domain.EventRubAppreciation}:   {0.65, domain.SignPositive, lag(0, 3*24*time.Hour)},
	{domain.EventRateCut, domain.EventStockRally}:         {0.55, domain.SignPositive, lag(0, 2*24*time.Hour)},
	{domain.EventRateCut, domain.EventRubDepreciation}:    {0.5, domain.SignNegative, lag(0, 3*24*time.Hour)},

	{domain.EventEarningsBeat, domain.EventStockRally}:    {0.75, domain.SignPositive, lag(0, 24*time.Hour)},
	{domain.EventEarningsMiss, domain.EventStockDrop}:     {0.75, domain.SignNegative, lag(0, 24*time.Hour)},
	{domain.EventGuidanceCut, domain.EventStockDrop}:      {0.65, domain.SignNegative, lag(0, 24*time.Hour)},
	{domain.EventGuidance, domain.EventStockRally}:        {0.4, domain.SignEither, lag(0, 24*time.Hour)},

	{domain.EventMnA, domain.EventStockRally}:             {0.6, domain.SignPositive, lag(0, 24*time.Hour)},
	{domain.EventIPO, domain.EventStockRally}:              {0.4, domain.SignPositive, lag(0, 3*24*time.Hour)},
	{domain.EventBuyback, domain.EventStockRally}:          {0.5, domain.SignPositive, lag(0, 2*24*time.Hour)},
	{domain.EventDividends, domain.EventStockRally}:        {0.35, domain.SignPositive, lag(0, 2*24*time.Hour)},
	{domain.EventDividendCut, domain.EventStockDrop}:       {0.6, domain.SignNegative, lag(0, 2*24*time.Hour)},

	{domain.EventDefault, domain.EventStockDrop}:           {0.8, domain.SignNegative, lag(0, 24*time.Hour)},
	{domain.EventLegal, domain.EventStockDrop}:              {0.45, domain.SignNegative, lag(0, 3*24*time.Hour)},
	{domain.EventRegulatory, domain.EventStockDrop}:         {0.5, domain.SignNegative, lag(0, 5*24*time.Hour)},
	{domain.EventManagementChange, domain.EventStockDrop}:   {0.3, domain.SignEither, lag(0, 3*24*time.Hour)},

	{domain.EventSupplyChain, domain.EventProduction}:       {0.6, domain.SignNegative, lag(0, 14*24*time.Hour)},
	{domain.EventAccident, domain.EventProduction}:          {0.6, domain.SignNegative, lag(0, 7*24*time.Hour)},
	{domain.EventAccident, domain.EventStockDrop}:            {0.55, domain.SignNegative, lag(0, 2*24*time.Hour)},
	{domain.EventStrike, domain.EventProduction}:             {0.65, domain.SignNegative, lag(0, 14*24*time.Hour)},
	{domain.EventStrike, domain.EventStockDrop}:              {0.4, domain.SignNegative, lag(0, 3*24*time.Hour)},

	{domain.EventRubDepreciation, domain.EventEarningsBeat}: {0.3, domain.SignEither, lag(0, 90*24*time.Hour)},
	{domain.EventRubAppreciation, domain.EventEarningsMiss}: {0.3, domain.SignEither, lag(0, 90*24*time.Hour)},
}

// retroEligible is spec.md §4.8 step 3's set of event types that trigger
// retroactive linking against future events.
var retroEligible = map[domain.EventType]bool{
	domain.EventSanctions:  true,
	domain.EventRegulatory: true,
	domain.EventDefault:    true,
}

func lookupPrior(causeType, effectType domain.EventType) (prior, bool) {
	p, ok := domainPriors[priorKey{causeType, effectType}]
	return p, ok
}
