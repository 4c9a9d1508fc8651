package simulation

import "github.com/kjannette/kakeibo-whatif/internal/models"

// chartStride picks how many snapshots to skip so a chart keeps a readable
// number of ticks.
func chartStride(n int) int {
	switch {
	case n <= 12:
		return 1
	case n <= 36:
		return 2
	case n <= 72:
		return 3
	default:
		return 6
	}
}

// BuildChart down-samples snapshots into parallel principal/valuation arrays
// labeled YYYY-MM. The final snapshot is always included.
func BuildChart(snaps []models.Snapshot) models.ChartSeries {
	chart := models.ChartSeries{
		Labels:    []string{},
		Principal: []float64{},
		Valuation: []float64{},
	}
	if len(snaps) == 0 {
		return chart
	}

	stride := chartStride(len(snaps))
	add := func(s models.Snapshot) {
		chart.Labels = append(chart.Labels, models.MonthKey(s.Date))
		chart.Principal = append(chart.Principal, s.Invested)
		chart.Valuation = append(chart.Valuation, s.Value)
	}
	for i := 0; i < len(snaps); i += stride {
		add(snaps[i])
	}
	if (len(snaps)-1)%stride != 0 {
		add(snaps[len(snaps)-1])
	}
	return chart
}
