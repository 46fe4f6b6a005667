package pipeline

import (
	"context"
	"fmt"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/amalresearch/evalpipeline/internal/merge"
	"github.com/amalresearch/evalpipeline/internal/store"
)

// runSynthesize merges every website page's ExtractionResults (§4.10)
// and folds in the structured per-source fields CharityData has a
// typed slot for, producing the single normalized document spec.md
// §3 calls CharityData.
func (p *Pipeline) runSynthesize(ctx context.Context, charityID string) (float64, error) {
	var bundle extractionBundle
	p.store.Get(ctx, store.TableRawScrapedData, store.RowKey(charityID, websiteExtractionsKey), &bundle)
	merged := merge.Merge(bundle.Results)

	data := domain.CharityData{
		CharityID:   charityID,
		DataSources: merged.DataSources,
	}
	applyMergedFields(&data, merged.Fields)

	if data.Name == "" {
		var charity domain.Charity
		if ok, _ := p.store.Get(ctx, store.TableCharities, charityID, &charity); ok {
			data.Name = charity.Name
		}
	}

	if rec, ok := p.loadSuccessfulRecord(ctx, charityID, domain.SourcePropublica); ok {
		data.FinancialHistory = financialHistoryFrom(rec.ParsedPayload)
	}
	if rec, ok := p.loadSuccessfulRecord(ctx, charityID, domain.SourceGrantsXML); ok {
		data.Grants = grantsFrom(rec.ParsedPayload)
	}
	if rec, ok := p.loadSuccessfulRecord(ctx, charityID, domain.SourceAccreditation); ok {
		data.AccreditationStatus = accreditationStatusFrom(rec.ParsedPayload)
	}

	if err := p.store.Upsert(ctx, store.TableCharityData, charityID, data); err != nil {
		return 0, fmt.Errorf("synthesize: %w", err)
	}
	return 0, nil
}

func (p *Pipeline) loadSuccessfulRecord(ctx context.Context, charityID, source string) (domain.RawRecord, bool) {
	var rec domain.RawRecord
	ok, _ := p.store.Get(ctx, store.TableRawScrapedData, store.RowKey(charityID, source), &rec)
	if !ok || !rec.Success {
		return domain.RawRecord{}, false
	}
	return rec, true
}

// applyMergedFields maps merge.Merge's generic {field: value} output
// onto CharityData's typed fields, per spec.md §4.10's field-name
// vocabulary. Unrecognized fields are dropped — CharityData only
// carries a typed slot for the fields spec.md §3 names.
func applyMergedFields(data *domain.CharityData, fields map[string]any) {
	data.Name = firstNonEmpty(data.Name, asString(fields["name"]))
	data.Mission = asString(fields["mission"])
	data.Vision = asString(fields["vision"])
	data.Tagline = asString(fields["tagline"])
	data.Values = asStringSlice(fields["values"])
	data.Programs = asStringSlice(fields["programs"])
	data.TargetPopulations = asStringSlice(fields["target_populations"])
	data.GeographicCoverage = asStringSlice(fields["geographic_coverage"])
	data.ImpactMetrics = asMap(fields["impact_metrics"])
	data.Beneficiaries = asString(fields["beneficiaries"])
	data.Leadership = asStringSlice(fields["leadership"])
	data.AdditionalInfo = asString(fields["additional_info"])
	data.Email = asString(fields["contact_email"])
	data.Phone = asString(fields["contact_phone"])
	data.Address = asString(fields["address"])
	data.SocialURLs = asStringSlice(fields["social_media"])
	data.DonateURL = asString(fields["donate_url"])
	data.LogoURL = asString(fields["logo_url"])
	data.FoundedYear = asInt(fields["founded_year"])
	data.TaxDeductible = asBool(fields["tax_deductible"])
}

func financialHistoryFrom(payload map[string]any) []domain.FinancialYear {
	profile, _ := payload["propublica_990"].(map[string]any)
	history, _ := profile["filing_history"].([]any)
	years := make([]domain.FinancialYear, 0, len(history))
	for _, entry := range history {
		filing, _ := entry.(map[string]any)
		if filing == nil {
			continue
		}
		years = append(years, domain.FinancialYear{
			FiscalYear:     asInt(filing["tax_year"]),
			TotalRevenue:   asFloat(filing["total_revenue"]),
			TotalExpenses:  asFloat(filing["total_expenses"]),
			ProgramExpense: asFloat(filing["program_expenses"]),
			NetAssets:      asFloat(filing["net_assets"]),
		})
	}
	return years
}

func grantsFrom(payload map[string]any) []domain.Grant {
	formGrants, _ := payload["form_990_grants"].(map[string]any)
	rawGrants, _ := formGrants["grants"].([]any)
	grants := make([]domain.Grant, 0, len(rawGrants))
	for _, entry := range rawGrants {
		g, _ := entry.(map[string]any)
		if g == nil {
			continue
		}
		grants = append(grants, domain.Grant{
			RecipientName: asString(g["recipient_name"]),
			Amount:        asFloat(g["amount"]),
			Purpose:       asString(g["purpose"]),
			Country:       asString(g["country"]),
			FiscalYear:    asInt(g["tax_year"]),
		})
	}
	return grants
}

func accreditationStatusFrom(payload map[string]any) string {
	report, _ := payload["bbb_report"].(map[string]any)
	if isShell, _ := report["is_shell"].(bool); isShell {
		return ""
	}
	return asString(report["accreditation_status"])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
