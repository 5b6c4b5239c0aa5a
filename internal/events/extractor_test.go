package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceglabs/ceg/internal/domain"
)

func TestExtract_SanctionsIsAnchor_WhenTrustedSource(t *testing.T) {
	x := New(5, nil)
	in := Input{
		NewsID:      uuid.New(),
		Title:       "Компания попала под новые санкции.",
		Text:        "Подробности не раскрываются.",
		PublishedAt: time.Now(),
		SourceTrust: 8,
	}
	events := x.Extract(in)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSanctions, events[0].Type)
	assert.True(t, events[0].IsAnchor)
	assert.InDelta(t, 0.75, events[0].Confidence, 1e-9)
}

func TestExtract_AnchorEligibleButLowTrust_NotAnchor(t *testing.T) {
	x := New(5, nil)
	in := Input{
		NewsID:      uuid.New(),
		Title:       "Компания попала под новые санкции.",
		PublishedAt: time.Now(),
		SourceTrust: 3,
	}
	events := x.Extract(in)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsAnchor)
}

func TestExtract_NonAnchorEligibleType_NeverAnchor(t *testing.T) {
	x := New(5, nil)
	in := Input{
		NewsID:      uuid.New(),
		Title:       "Компания объявила обратный выкуп акций.",
		PublishedAt: time.Now(),
		SourceTrust: 10,
	}
	events := x.Extract(in)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBuyback, events[0].Type)
	assert.False(t, events[0].IsAnchor)
	assert.InDelta(t, 0.6, events[0].Confidence, 1e-9)
}

func TestExtract_EachTypeAtMostOnce_NoDuplicateTypes(t *testing.T) {
	x := New(5, nil)
	in := Input{
		NewsID: uuid.New(),
		Title:  "Компания объявила дивиденды и сократила дивиденды за квартал.",
	}
	events := x.Extract(in)
	seen := map[domain.EventType]bool{}
	for _, e := range events {
		assert.False(t, seen[e.Type], "event type %s extracted twice", e.Type)
		seen[e.Type] = true
	}
}

func TestExtract_RespectsMaxEvents(t *testing.T) {
	x := New(2, nil)
	in := Input{
		NewsID: uuid.New(),
		Title:  "Санкции введены. Ставка повышена. Прибыль выросла. Объявлен buyback.",
		Text:   "Ipo назначено. Дефолт объявлен.",
	}
	events := x.Extract(in)
	assert.LessOrEqual(t, len(events), 2)
}

func TestExtract_NoMatch_ReturnsEmpty(t *testing.T) {
	x := New(5, nil)
	events := x.Extract(Input{NewsID: uuid.New(), Title: "Нейтральная заметка без триггеров."})
	assert.Empty(t, events)
}

func TestExtract_CustomAnchorEligible_Overrides(t *testing.T) {
	x := New(5, map[domain.EventType]bool{domain.EventBuyback: true})
	in := Input{
		NewsID:      uuid.New(),
		Title:       "Компания объявила обратный выкуп акций.",
		PublishedAt: time.Now(),
		SourceTrust: 9,
	}
	events := x.Extract(in)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsAnchor)
}

func TestExtract_ExtractionOrderIsSequential(t *testing.T) {
	x := New(5, nil)
	in := Input{
		NewsID: uuid.New(),
		Title:  "Санкции введены. Ставка повышена на фоне роста.",
	}
	events := x.Extract(in)
	for i, e := range events {
		assert.Equal(t, i, e.ExtractionOrder)
	}
}
