package urlscore_test

import (
	"testing"

	"github.com/amalresearch/evalpipeline/internal/urlscore"
	"github.com/stretchr/testify/assert"
)

func TestScore_HomepageFixedBaseline(t *testing.T) {
	score, _ := urlscore.Score("https://example.org/", "Home", "Example Org", "Welcome")
	assert.Equal(t, 70, score)
}

func TestScore_BlogPostScoresLow(t *testing.T) {
	score, _ := urlscore.Score("https://example.org/blog/2024/title", "Read more", "Blog", "A post")
	assert.LessOrEqual(t, score, 55)
}

func TestScore_AnnualReportScoresHighAsTrust(t *testing.T) {
	score, primary := urlscore.Score("https://example.org/annual-report", "Annual Report", "Annual Report 2024", "")
	assert.GreaterOrEqual(t, score, 50)
	assert.Equal(t, urlscore.DimTrust, primary)
}

func TestScore_DonatePageScoresHighAsDonate(t *testing.T) {
	score, _ := urlscore.Score("https://example.org/donate/", "Donate Now", "Donate", "Support Our Work")
	assert.GreaterOrEqual(t, score, 45)
	assert.Equal(t, urlscore.PageDonate, urlscore.ClassifyPage("https://example.org/donate/"))
}

func TestScore_InvalidURLReturnsZero(t *testing.T) {
	score, primary := urlscore.Score("://bad-url", "", "", "")
	assert.Equal(t, 0, score)
	assert.Equal(t, urlscore.Dimension(""), primary)
}

func TestApplyContentBoost_ZakatKeywordReclassifiesToFit(t *testing.T) {
	boosted, primary := urlscore.ApplyContentBoost(20, urlscore.DimTrust, "<p>Our Zakat calculator helps you give.</p>")
	assert.Equal(t, 70, boosted)
	assert.Equal(t, urlscore.DimFit, primary)
}

func TestApplyContentBoost_NoKeywordLeavesScoreUnchanged(t *testing.T) {
	boosted, primary := urlscore.ApplyContentBoost(20, urlscore.DimTrust, "<p>Nothing special here.</p>")
	assert.Equal(t, 20, boosted)
	assert.Equal(t, urlscore.DimTrust, primary)
}

func TestClassifyPage(t *testing.T) {
	cases := map[string]urlscore.PageType{
		"https://example.org/":         urlscore.PageHomepage,
		"https://example.org/zakat":    urlscore.PageZakat,
		"https://example.org/about":    urlscore.PageAbout,
		"https://example.org/programs": urlscore.PagePrograms,
		"https://example.org/impact":   urlscore.PageImpact,
		"https://example.org/donate":   urlscore.PageDonate,
		"https://example.org/contact":  urlscore.PageContact,
		"https://example.org/careers":  urlscore.PageOther,
	}
	for u, want := range cases {
		assert.Equal(t, want, urlscore.ClassifyPage(u), u)
	}
}

func TestSelectTopN_GuaranteesHomepageDimensionsAndDonation(t *testing.T) {
	candidates := []urlscore.Candidate{
		{URL: "https://example.org/", Score: 70, Depth: 0, IsHome: true},
		{URL: "https://example.org/about", Score: 60, Depth: 1, Primary: urlscore.DimTrust},
		{URL: "https://example.org/annual-report", Score: 58, Depth: 1, Primary: urlscore.DimTrust},
		{URL: "https://example.org/990", Score: 55, Depth: 1, Primary: urlscore.DimTrust},
		{URL: "https://example.org/impact", Score: 52, Depth: 1, Primary: urlscore.DimEvidence},
		{URL: "https://example.org/donate", Score: 65, Depth: 1, Primary: urlscore.DimDonation, IsDonate: true},
		{URL: "https://example.org/give", Score: 40, Depth: 1, Primary: urlscore.DimDonation, IsDonate: true},
		{URL: "https://example.org/blog/x", Score: 10, Depth: 2},
	}

	top := urlscore.SelectTopN(candidates, 5)

	var sawHome, sawDonate int
	trustCount := 0
	for _, c := range top {
		if c.IsHome {
			sawHome++
		}
		if c.IsDonate {
			sawDonate++
		}
		if c.Primary == urlscore.DimTrust {
			trustCount++
		}
	}
	assert.Equal(t, 1, sawHome)
	assert.GreaterOrEqual(t, sawDonate, 1)
	assert.LessOrEqual(t, trustCount, 2)
	assert.LessOrEqual(t, len(top), 5)
}

func TestSelectTopN_NeverExceedsRequestedCount(t *testing.T) {
	candidates := make([]urlscore.Candidate, 0, 20)
	for i := 0; i < 20; i++ {
		candidates = append(candidates, urlscore.Candidate{URL: "https://example.org/p" + string(rune('a'+i)), Score: i})
	}
	top := urlscore.SelectTopN(candidates, 10)
	assert.Len(t, top, 10)
}
