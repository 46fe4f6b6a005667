package pdfdoc_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/pdfdoc"
)

func TestIdentify(t *testing.T) {
	base, err := url.Parse("https://example.org/reports/")
	require.NoError(t, err)

	html := `<html><body>
		<a href="form990.pdf">FY2023 Form 990</a>
		<a href="/financials">Our Financial Statement</a>
		<a href="/photo.jpg" type="application/pdf">Hidden PDF</a>
		<a href="/about">About us</a>
	</body></html>`

	links, err := pdfdoc.Identify(html, base)
	require.NoError(t, err)
	require.Len(t, links, 2)

	var urls []string
	for _, l := range links {
		urls = append(urls, l.URL)
	}
	assert.Contains(t, urls, "https://example.org/reports/form990.pdf")
	assert.Contains(t, urls, "https://example.org/photo.jpg")
}

func TestShouldExclude(t *testing.T) {
	cases := []struct {
		name string
		link pdfdoc.Link
		want bool
	}{
		{"ordinary annual report", pdfdoc.Link{AnchorText: "2023 Annual Report"}, false},
		{"confidential", pdfdoc.Link{Context: "This document is strictly confidential"}, true},
		{"settlement agreement", pdfdoc.Link{AnchorText: "Settlement Agreement"}, true},
		{"nda", pdfdoc.Link{URL: "https://example.org/nda-2020.pdf"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			excluded, _ := pdfdoc.ShouldExclude(tc.link)
			assert.Equal(t, tc.want, excluded)
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		link pdfdoc.Link
		want domain.PDFDocumentType
	}{
		{"form 990 anchor", pdfdoc.Link{AnchorText: "FY2023 Form 990"}, domain.PDFForm990},
		{"audit report", pdfdoc.Link{AnchorText: "Independent Auditor's Report"}, domain.PDFAuditReport},
		{"annual report path", pdfdoc.Link{URL: "https://example.org/annual-report-2022.pdf"}, domain.PDFAnnualReport},
		{"theory of change", pdfdoc.Link{Context: "Read our Theory of Change document"}, domain.PDFTheoryOfChange},
		{"unrecognized", pdfdoc.Link{AnchorText: "Random Document"}, domain.PDFOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pdfdoc.Classify(tc.link))
		})
	}
}

func TestExtractFiscalYear(t *testing.T) {
	cases := []struct {
		name     string
		link     pdfdoc.Link
		wantYear int
		wantOK   bool
	}{
		{"FY prefix", pdfdoc.Link{AnchorText: "FY 2022 Form 990"}, 2022, true},
		{"annual report suffix", pdfdoc.Link{AnchorText: "2021 Annual Report"}, 2021, true},
		{"year range", pdfdoc.Link{Context: "covers 2019-2020"}, 2020, true},
		{"no year", pdfdoc.Link{AnchorText: "Our Form 990"}, 0, false},
		{"implausible year", pdfdoc.Link{AnchorText: "FY 3099 filing"}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			year, ok := pdfdoc.ExtractFiscalYear(tc.link)
			assert.Equal(t, tc.wantOK, ok)
			if ok {
				assert.Equal(t, tc.wantYear, year)
			}
		})
	}
}

func TestPrioritize(t *testing.T) {
	candidates := []pdfdoc.Candidate{
		{Link: pdfdoc.Link{URL: "old-990"}, DocumentType: domain.PDFForm990, FiscalYear: 2015},
		{Link: pdfdoc.Link{URL: "recent-990"}, DocumentType: domain.PDFForm990, FiscalYear: 2023},
		{Link: pdfdoc.Link{URL: "recent-annual"}, DocumentType: domain.PDFAnnualReport, FiscalYear: 2023},
		{Link: pdfdoc.Link{URL: "undated-other"}, DocumentType: domain.PDFOther, FiscalYear: 0},
	}

	kept := pdfdoc.Prioritize(candidates, 2024, 2)
	require.Len(t, kept, 2)
	assert.Equal(t, "recent-990", kept[0].URL)
	assert.Equal(t, "recent-annual", kept[1].URL)
}

func TestPrioritize_DropsDocumentsOlderThanFiveYears(t *testing.T) {
	candidates := []pdfdoc.Candidate{
		{Link: pdfdoc.Link{URL: "ancient"}, DocumentType: domain.PDFForm990, FiscalYear: 2010},
		{Link: pdfdoc.Link{URL: "fresh"}, DocumentType: domain.PDFForm990, FiscalYear: 2023},
	}
	kept := pdfdoc.Prioritize(candidates, 2024, 10)
	require.Len(t, kept, 1)
	assert.Equal(t, "fresh", kept[0].URL)
}

func TestDiscover(t *testing.T) {
	base, err := url.Parse("https://example.org/")
	require.NoError(t, err)
	html := `<html><body>
		<a href="/form990-2023.pdf">Form 990 2023</a>
		<a href="/nda.pdf">Non-Disclosure Agreement</a>
		<a href="/page">Not a PDF</a>
	</body></html>`

	candidates, err := pdfdoc.Discover(html, base)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, domain.PDFForm990, candidates[0].DocumentType)
	assert.Equal(t, 2023, candidates[0].FiscalYear)
}
