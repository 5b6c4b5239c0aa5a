package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ceglabs/ceg/internal/domain"
)

func TestClassify_SectorFromLinkedIssuer_BeatsKeywords(t *testing.T) {
	sector := "energy"
	in := Input{
		Title:         "Банк повысил ставку",
		Text:          "заявление по итогам заседания",
		LinkedIssuers: []domain.Issuer{{SectorID: &sector}},
	}
	c := Classify(in)
	assert.Equal(t, "energy", c.SectorCode)
}

func TestClassify_SectorFromKeyword_WhenNoIssuerSector(t *testing.T) {
	c := Classify(Input{Title: "Металлургический комбинат объявил", Text: "рост производства стали"})
	assert.Equal(t, "materials", c.SectorCode)
}

func TestClassify_CountryKeywordOverridesLang(t *testing.T) {
	c := Classify(Input{Title: "Новости", Text: "китайский рынок растёт", Lang: "ru"})
	assert.Equal(t, "CN", c.CountryCode)
}

func TestClassify_CountryFallsBackToLang(t *testing.T) {
	c := Classify(Input{Title: "Нейтральный заголовок", Text: "без упоминаний стран", Lang: "ru"})
	assert.Equal(t, "RU", c.CountryCode)
}

func TestClassify_NewsType_ByLinkedIssuerCount(t *testing.T) {
	one := Classify(Input{LinkedIssuers: []domain.Issuer{{}}})
	many := Classify(Input{LinkedIssuers: []domain.Issuer{{}, {}}})
	none := Classify(Input{})

	assert.Equal(t, domain.NewsTypeOneCompany, one.NewsType)
	assert.Equal(t, domain.NewsTypeMarket, many.NewsType)
	assert.Equal(t, domain.NewsTypeRegulatory, none.NewsType)
}

func TestClassify_Subtype_FirstKeywordWins(t *testing.T) {
	c := Classify(Input{Title: "Компания попала под санкции после иска", Text: ""})
	assert.Equal(t, domain.SubtypeSanctions, c.NewsSubtype)
}

func TestClassify_Subtype_DefaultsToOther(t *testing.T) {
	c := Classify(Input{Title: "Обычная заметка", Text: "без триггерных слов"})
	assert.Equal(t, domain.SubtypeOther, c.NewsSubtype)
}

func TestClassify_SecondaryTags_SortedAndCapped(t *testing.T) {
	c := Classify(Input{Title: "Дивиденды", Text: "квартальный отчёт и искусственный интеллект"})
	assert.LessOrEqual(t, len(c.SecondaryTags), 3)
	for i := 1; i < len(c.SecondaryTags); i++ {
		assert.LessOrEqual(t, c.SecondaryTags[i-1], c.SecondaryTags[i])
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	in := Input{Title: "Банк и нефтяная компания заключили соглашение", Text: "подробности сделки"}
	c1 := Classify(in)
	c2 := Classify(in)
	assert.Equal(t, c1, c2)
}
