package antispam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
)

func testConfig() config.AntispamConfig {
	return config.AntispamConfig{
		ThresholdDefault: 5.0,
		ThresholdTrusted: 8.0,
		TrustedLevel:     7,
		WhitelistDomains: []string{"rbc.ru"},
		Rules: []config.AntispamRule{
			{ID: "kw_discount", Kind: "keyword", Weight: 3.0, Pattern: `скидка \d+%`},
			{ID: "kw_buy", Kind: "keyword", Weight: 2.5, Pattern: `купи (акции|сейчас)`},
			{ID: "tag_promo", Kind: "hashtag", Weight: 1.0, Pattern: `@promo`},
			{ID: "url_shortener", Kind: "url_shape", Weight: 2.0, Pattern: "bit.ly,tinyurl"},
			{ID: "struct_many_links", Kind: "structural", Weight: 1.5, Pattern: "link_count>2"},
		},
	}
}

// S3 from spec.md §8: ad text from a trust_level=5 source must score >= 5.0.
func TestScorer_S3_AdFiltering(t *testing.T) {
	s := New(testConfig())
	raw := domain.RawNews{
		Title: "Купи акции! Скидка 50%! @promo",
		Text:  "Купи акции сейчас, скидка 50% только сегодня @promo",
	}

	d := s.Score(raw, 5)

	assert.True(t, d.IsAd)
	assert.GreaterOrEqual(t, d.Score, 5.0)
	assert.NotEmpty(t, d.AdReasons)
}

func TestScorer_WhitelistCancelsURLRules(t *testing.T) {
	s := New(testConfig())
	raw := domain.RawNews{
		Title: "Обзор рынка",
		Text:  "Подробнее на https://rbc.ru/news/123 и https://bit.ly/xyz",
	}
	d := s.Score(raw, 5)
	for _, r := range d.AdReasons {
		assert.NotEqual(t, "url_shortener", r)
	}
}

func TestScorer_TrustedSourceHigherThreshold(t *testing.T) {
	s := New(testConfig())
	raw := domain.RawNews{Title: "Купи акции сейчас", Text: "скидка 50%"}

	untrusted := s.Score(raw, 3)
	trusted := s.Score(raw, 8)

	require.Equal(t, untrusted.Score, trusted.Score)
	assert.True(t, untrusted.IsAd)
	assert.False(t, trusted.IsAd, "same score must clear the higher trusted threshold")
}

func TestScorer_ReasonsDeterministicOrder(t *testing.T) {
	s := New(testConfig())
	raw := domain.RawNews{Title: "Купи акции сейчас", Text: "скидка 50% @promo"}
	d1 := s.Score(raw, 5)
	d2 := s.Score(raw, 5)
	assert.Equal(t, d1.AdReasons, d2.AdReasons)
}
