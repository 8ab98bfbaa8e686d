package finance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaxYearBounds(t *testing.T) {
	from, to := taxYearBounds(2025)

	assert.Equal(t, time.Date(2025, time.April, 6, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 2026, to.Year())
	assert.Equal(t, time.April, to.Month())
	assert.Equal(t, 5, to.Day())
}

func TestTaxYearFor(t *testing.T) {
	tests := []struct {
		date time.Time
		want int
	}{
		{time.Date(2026, time.April, 5, 23, 59, 0, 0, time.UTC), 2025}, // last day of old year
		{time.Date(2026, time.April, 6, 0, 0, 0, 0, time.UTC), 2026},  // cutover day
		{time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), 2025},
		{time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC), 2026},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, taxYearFor(tt.date), tt.date.Format("2006-01-02"))
	}
}

func TestTaxYearRoundTrip(t *testing.T) {
	// Every day inside a tax year maps back to that year.
	from, to := taxYearBounds(2024)
	for _, d := range []time.Time{from, from.AddDate(0, 6, 0), to} {
		assert.Equal(t, 2024, taxYearFor(d), d.Format("2006-01-02"))
	}
}
