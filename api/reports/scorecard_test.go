package reports

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FieldOpsKPI/api/rules"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func decPtr(t *testing.T, s string) *decimal.Decimal {
	d := dec(t, s)
	return &d
}

func TestParseMetricNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "42", want: "42"},
		{in: " 88% ", want: "88"},
		{in: "1,250.5", want: "1250.5"},
		{in: "(12.5)", want: "-12.5"},
		{in: "(1,000)", want: "-1000"},
		{in: "", wantErr: true},
		{in: "n/a", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMetricNumber(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.True(t, dec(t, tc.want).Equal(got), "input %q: want %s got %s", tc.in, tc.want, got)
	}
}

func TestAggregateScores(t *testing.T) {
	rows := []techRow{
		{TechID: "1001", Name: "Jane Doe", Region: "DALLAS", Jobs: decPtr(t, "10"),
			TNPS: decPtr(t, "60"), FTR: decPtr(t, "80"), RepeatCalls: decPtr(t, "1"), RubricVersionID: 7},
		{TechID: "1001", Name: "Jane Doe", Region: "DALLAS", Jobs: decPtr(t, "5"),
			TNPS: decPtr(t, "70"), RepeatCalls: decPtr(t, "2"), RubricVersionID: 7},
		{TechID: "2002", Name: "John Roe", Region: "DALLAS", Jobs: decPtr(t, "0"), RubricVersionID: 7},
	}

	scores := aggregateScores(rows)
	require.Len(t, scores, 2)

	jane := scores[0]
	assert.Equal(t, "1001", jane.TechID)
	assert.Equal(t, 2, jane.Rows)
	assert.True(t, dec(t, "15").Equal(jane.Jobs), "job counts sum")
	assert.True(t, dec(t, "3").Equal(jane.RepeatCalls))
	require.NotNil(t, jane.TNPS)
	assert.True(t, dec(t, "65").Equal(*jane.TNPS), "tNPS averages over rows that carried a value")
	require.NotNil(t, jane.FTR)
	assert.True(t, dec(t, "80").Equal(*jane.FTR), "single-row metric passes through")
	assert.Nil(t, jane.ToolUsage, "metric absent from every row stays absent")
	assert.True(t, jane.Reportable)

	john := scores[1]
	assert.False(t, john.Reportable, "zero jobs means not reportable")
	assert.Nil(t, john.TNPS)
}

func TestAssignBand(t *testing.T) {
	bands := []rules.Band{
		{Metric: MetricTNPS, Band: "GOLD", Min: decPtr(t, "70")},
		{Metric: MetricTNPS, Band: "SILVER", Min: decPtr(t, "50"), Max: decPtr(t, "69.99")},
		{Metric: MetricTNPS, Band: "BRONZE", Max: decPtr(t, "49.99")},
		{Metric: MetricFTR, Band: "PASS", Min: decPtr(t, "85")},
	}

	assert.Equal(t, "GOLD", assignBand(bands, MetricTNPS, dec(t, "82")))
	assert.Equal(t, "SILVER", assignBand(bands, MetricTNPS, dec(t, "50")))
	assert.Equal(t, "BRONZE", assignBand(bands, MetricTNPS, dec(t, "-5")), "open lower bound")
	assert.Equal(t, "PASS", assignBand(bands, MetricFTR, dec(t, "90")))
	assert.Empty(t, assignBand(bands, MetricFTR, dec(t, "10")), "no containing interval yields no band")
	assert.Empty(t, assignBand(bands, MetricToolUsage, dec(t, "90")), "metric without bands yields no band")
}

func TestApplyBandsUsesPinnedVersion(t *testing.T) {
	v7 := dec(t, "65")
	scores := []TechScore{
		{TechID: "1001", TNPS: &v7, Bands: map[string]string{}, RubricVersionID: 7},
		{TechID: "2002", TNPS: &v7, Bands: map[string]string{}, RubricVersionID: 8},
	}
	bandsByVersion := map[int64][]rules.Band{
		7: {{Metric: MetricTNPS, Band: "SILVER", Min: decPtr(t, "50"), Max: decPtr(t, "69.99")}},
		8: {{Metric: MetricTNPS, Band: "GOLD", Min: decPtr(t, "60")}},
	}

	applyBands(scores, bandsByVersion)
	assert.Equal(t, "SILVER", scores[0].Bands[MetricTNPS])
	assert.Equal(t, "GOLD", scores[1].Bands[MetricTNPS],
		"the same value bands differently under a different pinned version")
}
