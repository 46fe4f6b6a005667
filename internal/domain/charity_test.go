package domain_test

import (
	"testing"

	"github.com/amalresearch/evalpipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEIN(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"already canonical", "12-3456789", "12-3456789", false},
		{"no dash", "123456789", "12-3456789", false},
		{"leading zero", "012345678", "01-2345678", false},
		{"extra whitespace and punctuation", " 12 345 6789 ", "12-3456789", false},
		{"too short", "1234567", "", true},
		{"too long", "1234567890", "", true},
		{"non numeric", "AB-CDEFGHI", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.NormalizeEIN(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeWebsite(t *testing.T) {
	assert.Equal(t, "https://example.org", domain.NormalizeWebsite("example.org"))
	assert.Equal(t, "https://example.org", domain.NormalizeWebsite("https://example.org"))
	assert.Equal(t, "http://example.org", domain.NormalizeWebsite("http://example.org"))
	assert.Equal(t, "", domain.NormalizeWebsite(""))
}

func TestRawRecord_IsValidationFailure(t *testing.T) {
	r := domain.RawRecord{ErrorMessage: domain.ValidationError("EIN mismatch: got %s want %s", "99-9999999", "12-3456789")}
	assert.True(t, r.IsValidationFailure())

	r2 := domain.RawRecord{ErrorMessage: "connection reset by peer"}
	assert.False(t, r2.IsValidationFailure())
}

func TestHasError(t *testing.T) {
	assert.False(t, domain.HasError([]domain.JudgeIssue{{Severity: domain.SeverityWarn}}))
	assert.True(t, domain.HasError([]domain.JudgeIssue{{Severity: domain.SeverityWarn}, {Severity: domain.SeverityError}}))
}
