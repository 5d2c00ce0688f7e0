package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anchorOf(t *testing.T, s string) time.Time {
	t.Helper()
	a, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	require.NoError(t, err)
	return a
}

func TestPickEffective(t *testing.T) {
	versions := []RubricVersion{
		{ID: 1, FiscalMonthAnchor: anchorOf(t, "2025-01-21"), Active: true},
		{ID: 2, FiscalMonthAnchor: anchorOf(t, "2025-04-21"), Active: true},
		{ID: 3, FiscalMonthAnchor: anchorOf(t, "2025-07-21"), Active: false},
		{ID: 4, FiscalMonthAnchor: anchorOf(t, "2025-10-21"), Active: true},
	}

	cases := []struct {
		name   string
		asOf   string
		wantID int64
	}{
		{"before the first version picks nothing", "2024-12-21", 0},
		{"exactly the first anchor", "2025-01-21", 1},
		{"between versions picks the older", "2025-03-21", 1},
		{"newer version takes over on its anchor", "2025-04-21", 2},
		{"inactive version is skipped", "2025-08-21", 2},
		{"latest effective wins", "2025-12-21", 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := pickEffective(versions, anchorOf(t, tc.asOf))
			if tc.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.wantID, got.ID)
		})
	}
}

func TestPickEffectiveIgnoresOrder(t *testing.T) {
	versions := []RubricVersion{
		{ID: 2, FiscalMonthAnchor: anchorOf(t, "2025-04-21"), Active: true},
		{ID: 1, FiscalMonthAnchor: anchorOf(t, "2025-01-21"), Active: true},
	}
	got := pickEffective(versions, anchorOf(t, "2025-06-21"))
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)
}
