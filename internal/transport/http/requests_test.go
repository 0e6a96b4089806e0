package httptransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/pkg/domain"
)

// TestFilterRequestToFilter verifies wire-level enum parsing, including
// case-insensitive deduplication of repeated values.
func TestFilterRequestToFilter(t *testing.T) {
	t.Run("dedupes outcomes on the lowered form", func(t *testing.T) {
		req := FilterRequest{
			Outcomes:   []string{"FAILURE", " failure ", "success"},
			Severities: []string{"Critical", "critical"},
		}
		filter, err := req.ToFilter()
		require.NoError(t, err)
		assert.Equal(t, []domain.Outcome{domain.OutcomeFailure, domain.OutcomeSuccess}, filter.Outcomes)
		assert.Equal(t, []domain.Severity{domain.SeverityCritical}, filter.Severities)
	})

	t.Run("rejects unknown outcome", func(t *testing.T) {
		req := FilterRequest{Outcomes: []string{"maybe"}}
		_, err := req.ToFilter()
		require.Error(t, err)
	})
}
