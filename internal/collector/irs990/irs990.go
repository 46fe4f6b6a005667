// Package irs990 collects IRS Form 990 filing data from ProPublica's
// Nonprofit Explorer API.
//
// Grounded on
// original_source/data-pipeline/src/collectors/propublica.py's
// ProPublicaCollector: plain HTTP GET returning raw JSON text from
// fetch(), with all structure (EIN-match validation, multi-year
// filing history, exempt-status classification) built in parse()
// rather than on the wire. The response is flat JSON with no nested
// framework markup, so this collector uses only stdlib
// encoding/json — a third-party JSON library would add nothing a
// plain Decode doesn't already give.
package irs990

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amalresearch/evalpipeline/internal/collector"
	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/ratelimit"
)

const (
	baseURL      = "https://projects.propublica.org/nonprofits/api/v2"
	rateLimitKey = "propublica"
	minInterval  = 2 * time.Second
	schemaKey    = "propublica_990"
)

func init() {
	collector.Register(domain.SourcePropublica, New)
}

// New satisfies collector.Factory.
func New(deps collector.Deps) collector.Source {
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{client: client, limiter: deps.Limiter}
}

// Source implements collector.Source for ProPublica's 990 API.
type Source struct {
	client  *http.Client
	limiter *ratelimit.Limiter
}

func (s *Source) SourceName() string { return domain.SourcePropublica }
func (s *Source) SchemaKey() string  { return schemaKey }

// Fetch issues the GET and returns the raw JSON body unparsed, per
// propublica.py's fetch(): network I/O only, no structure imposed.
func (s *Source) Fetch(ctx context.Context, charityID string, opts map[string]string) collector.FetchResult {
	einClean := strings.ReplaceAll(charityID, "-", "")
	if len(einClean) != 9 || !isDigits(einClean) {
		return collector.FetchResult{Err: fmt.Sprintf("invalid EIN format: %s", charityID)}
	}

	if s.limiter != nil {
		if _, err := s.limiter.Wait(ctx, rateLimitKey, minInterval); err != nil {
			return collector.FetchResult{Err: err.Error()}
		}
	}

	url := fmt.Sprintf("%s/organizations/%s.json", baseURL, einClean)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return collector.FetchResult{Err: err.Error()}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return collector.FetchResult{Err: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return collector.FetchResult{Err: fmt.Sprintf("failed to read response body: %v", err)}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return collector.FetchResult{Err: fmt.Sprintf("organization not found for EIN %s", charityID)}
	case http.StatusTooManyRequests:
		return collector.FetchResult{Err: fmt.Sprintf("rate limited (429), retry-after %s", resp.Header.Get("Retry-After"))}
	case http.StatusOK:
		return collector.FetchResult{OK: true, RawData: body, ContentType: "json"}
	default:
		return collector.FetchResult{Err: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
}

type apiOrganization struct {
	EIN                  json.Number `json:"ein"`
	Name                 string      `json:"name"`
	Address              string      `json:"address"`
	City                 string      `json:"city"`
	State                string      `json:"state"`
	Zipcode              string      `json:"zipcode"`
	NTEECode             string      `json:"ntee_code"`
	SubsectionCode       json.Number `json:"subsection_code"`
	AffiliationCode      json.Number `json:"affiliation_code"`
	FoundationCode       json.Number `json:"foundation_code"`
	RulingDate           string      `json:"ruling_date"`
	FilingRequirementCode *int       `json:"filing_requirement_code"`
}

type apiFiling struct {
	ObjectID        json.Number `json:"object_id"`
	TaxPrdYr        int     `json:"tax_prd_yr"`
	TotRevenue      float64 `json:"totrevenue"`
	TotFuncExpns    float64 `json:"totfuncexpns"`
	ProgrmServExp   float64 `json:"progrmservexp"`
	MgmtAndGeneral  float64 `json:"mgmtandgeneral"`
	FundFees        float64 `json:"fundfees"`
	TotAssetsEnd    float64 `json:"totassetsend"`
	TotLiabEnd      float64 `json:"totliabend"`
	TotNetAssetEnd  float64 `json:"totnetassetend"`
	TotCntrbGfts    float64 `json:"totcntrbgfts"`
	TotPrgmRevnue   float64 `json:"totprgmrevnue"`
	InvstmntInc     float64 `json:"invstmntinc"`
	OthRevnue       float64 `json:"othrevnue"`
	TotEmploy       int     `json:"totemploy"`
	TotVolunteers   int     `json:"totvolunteers"`
	FormType        string  `json:"formtype"`
}

type apiResponse struct {
	Organization     apiOrganization `json:"organization"`
	FilingsWithData  []apiFiling     `json:"filings_with_data"`
}

// Parse validates the EIN match and builds the schema-keyed profile,
// per propublica.py's parse(): malformed JSON and EIN mismatch are
// both permanent validation failures, not transient errors.
func (s *Source) Parse(ctx context.Context, raw []byte, charityID string, opts map[string]string) collector.ParseResult {
	var data apiResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return collector.ParseResult{Err: domain.ValidationError("invalid JSON: %v", err)}
	}

	einClean := strings.ReplaceAll(charityID, "-", "")
	if apiEIN := data.Organization.EIN.String(); apiEIN != "" && apiEIN != "0" {
		if strings.ReplaceAll(apiEIN, "-", "") != einClean {
			return collector.ParseResult{Err: domain.ValidationError("EIN mismatch: requested %s but API returned %s", charityID, apiEIN)}
		}
	}

	isExempt, exemptReason := exemptStatus(data.Organization.FilingRequirementCode, data.Organization.NTEECode)

	profile := map[string]any{
		"ein":                     fmt.Sprintf("%s-%s", einClean[:2], einClean[2:]),
		"name":                    orUnknown(data.Organization.Name),
		"address":                 data.Organization.Address,
		"city":                    data.Organization.City,
		"state":                   data.Organization.State,
		"zip":                     data.Organization.Zipcode,
		"ntee_code":               data.Organization.NTEECode,
		"subsection_code":         data.Organization.SubsectionCode.String(),
		"affiliation_code":        data.Organization.AffiliationCode.String(),
		"foundation_code":         data.Organization.FoundationCode.String(),
		"irs_ruling_year":         rulingYear(data.Organization.RulingDate),
		"form_990_exempt":         isExempt,
		"form_990_exempt_reason":  exemptReason,
	}

	if len(data.FilingsWithData) == 0 {
		profile["filing_history"] = []map[string]any{}
		profile["no_filings"] = true
		return collector.ParseResult{OK: true, ParsedData: map[string]any{schemaKey: profile}}
	}

	mostRecent := data.FilingsWithData[0]
	limit := len(data.FilingsWithData)
	if limit > 3 {
		limit = 3
	}
	history := make([]map[string]any, 0, limit)
	for _, filing := range data.FilingsWithData[:limit] {
		history = append(history, map[string]any{
			"object_id":            filing.ObjectID.String(),
			"tax_year":             filing.TaxPrdYr,
			"total_revenue":        filing.TotRevenue,
			"total_expenses":       filing.TotFuncExpns,
			"program_expenses":     filing.ProgrmServExp,
			"admin_expenses":       filing.MgmtAndGeneral,
			"fundraising_expenses": filing.FundFees,
			"total_assets":         filing.TotAssetsEnd,
			"net_assets":           filing.TotNetAssetEnd,
			"employees_count":      filing.TotEmploy,
			"form_type":            filing.FormType,
		})
	}

	profile["tax_year"] = mostRecent.TaxPrdYr
	profile["total_revenue"] = mostRecent.TotRevenue
	profile["total_expenses"] = mostRecent.TotFuncExpns
	profile["program_expenses"] = mostRecent.ProgrmServExp
	profile["admin_expenses"] = mostRecent.MgmtAndGeneral
	profile["fundraising_expenses"] = mostRecent.FundFees
	profile["total_assets"] = mostRecent.TotAssetsEnd
	profile["total_liabilities"] = mostRecent.TotLiabEnd
	profile["net_assets"] = mostRecent.TotNetAssetEnd
	profile["total_contributions"] = mostRecent.TotCntrbGfts
	profile["program_service_revenue"] = mostRecent.TotPrgmRevnue
	profile["investment_income"] = mostRecent.InvstmntInc
	profile["other_revenue"] = mostRecent.OthRevnue
	profile["employees_count"] = mostRecent.TotEmploy
	profile["volunteers_count"] = mostRecent.TotVolunteers
	profile["filing_type"] = mostRecent.FormType
	profile["filing_history"] = history
	profile["no_filings"] = false

	return collector.ParseResult{OK: true, ParsedData: map[string]any{schemaKey: profile}}
}

func exemptStatus(filingRequirementCode *int, nteeCode string) (bool, string) {
	isExempt := filingRequirementCode != nil && *filingRequirementCode == 0
	if !isExempt {
		return false, ""
	}
	if strings.HasPrefix(nteeCode, "X") {
		return true, "Religious organization"
	}
	return true, "Exempt from Form 990 filing"
}

func rulingYear(rulingDate string) int {
	if rulingDate == "" {
		return 0
	}
	yearStr := rulingDate
	if idx := strings.Index(rulingDate, "-"); idx >= 0 {
		yearStr = rulingDate[:idx]
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil || year < 1800 || year > 2100 {
		return 0
	}
	return year
}

func orUnknown(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
