package automation

import (
	"math/rand"
	"testing"
	"time"
	_ "time/tzdata"

	"dripline/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestComputeNextRun(t *testing.T) {
	businessHours := &models.SendWindow{Start: "09:00", End: "17:00"}

	tests := map[string]struct {
		delay  models.Delay
		window *models.SendWindow
		ref    time.Time
		exp    time.Time
	}{
		"No delay and no window returns the reference.": {
			ref: at("2025-01-01T20:00:00Z"),
			exp: at("2025-01-01T20:00:00Z"),
		},
		"Minutes are added as a duration.": {
			delay: models.Delay{Unit: models.DelayMinutes, Value: 90},
			ref:   at("2025-01-01T10:00:00Z"),
			exp:   at("2025-01-01T11:30:00Z"),
		},
		"Fractional hours are not rounded.": {
			delay: models.Delay{Unit: models.DelayHours, Value: 1.5},
			ref:   at("2025-01-01T10:00:00Z"),
			exp:   at("2025-01-01T11:30:00Z"),
		},
		"Days are calendar days.": {
			delay: models.Delay{Unit: models.DelayDays, Value: 2},
			ref:   at("2025-01-30T10:00:00Z"),
			exp:   at("2025-02-01T10:00:00Z"),
		},
		"Fractional days add the remainder as hours.": {
			delay: models.Delay{Unit: models.DelayDays, Value: 1.5},
			ref:   at("2025-01-01T00:00:00Z"),
			exp:   at("2025-01-02T12:00:00Z"),
		},
		"Unknown or missing unit means no delay.": {
			delay: models.Delay{Value: 3},
			ref:   at("2025-01-01T10:00:00Z"),
			exp:   at("2025-01-01T10:00:00Z"),
		},
		"After the window end moves to the next day's start.": {
			window: businessHours,
			ref:    at("2025-01-01T20:00:00Z"),
			exp:    at("2025-01-02T09:00:00Z"),
		},
		"Before the window start moves to the same day's start.": {
			window: businessHours,
			ref:    at("2025-01-01T05:00:00Z"),
			exp:    at("2025-01-01T09:00:00Z"),
		},
		"Inside the window is unchanged.": {
			window: businessHours,
			ref:    at("2025-01-01T12:00:00Z"),
			exp:    at("2025-01-01T12:00:00Z"),
		},
		"The end hour itself is outside the window.": {
			window: businessHours,
			ref:    at("2025-01-01T17:00:00Z"),
			exp:    at("2025-01-02T09:00:00Z"),
		},
		"Folding applies after the delay.": {
			delay:  models.Delay{Unit: models.DelayHours, Value: 6},
			window: businessHours,
			ref:    at("2025-01-01T14:00:00Z"),
			exp:    at("2025-01-02T09:00:00Z"),
		},
		"A degenerate window always folds to the next day's start.": {
			window: &models.SendWindow{Start: "09:00", End: "09:00"},
			ref:    at("2025-01-01T09:30:00Z"),
			exp:    at("2025-01-02T09:00:00Z"),
		},
		"A malformed window is ignored.": {
			window: &models.SendWindow{Start: "nine", End: "17:00"},
			ref:    at("2025-01-01T20:00:00Z"),
			exp:    at("2025-01-01T20:00:00Z"),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got := ComputeNextRun(test.delay, test.window, test.ref)
			assert.True(test.exp.Equal(got), "expected %s, got %s", test.exp, got)
		})
	}
}

func TestComputeNextRunFoldsInReferenceLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 12:00 UTC is 07:00 in New York, before a 09:00 start.
	ref := at("2025-01-01T12:00:00Z").In(ny)
	got := ComputeNextRun(models.Delay{}, &models.SendWindow{Start: "09:00", End: "17:00"}, ref)

	assert.True(t, at("2025-01-01T14:00:00Z").Equal(got), "got %s", got)
}

func TestComputeNextRunIsDeterministicAndRespectsWindow(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := map[string]struct {
		window *models.SendWindow
		loc    *time.Location
	}{
		"no window":             {window: nil, loc: time.UTC},
		"extended hours":        {window: &models.SendWindow{Start: "08:00", End: "18:00"}, loc: time.UTC},
		"business hours":        {window: &models.SendWindow{Start: "09:00", End: "17:00"}, loc: time.UTC},
		"start equals end":      {window: &models.SendWindow{Start: "09:00", End: "09:00"}, loc: time.UTC},
		"business hours in NYC": {window: &models.SendWindow{Start: "09:00", End: "17:00"}, loc: ny},
	}

	units := []models.DelayUnit{models.DelayMinutes, models.DelayHours, models.DelayDays}
	base := at("2024-01-01T00:00:00Z")

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(42))
			for i := 0; i < 250; i++ {
				ref := base.Add(time.Duration(rnd.Int63n(int64(365 * 24 * time.Hour)))).In(test.loc)
				delay := models.Delay{Unit: units[rnd.Intn(len(units))], Value: float64(rnd.Intn(72))}

				first := ComputeNextRun(delay, test.window, ref)
				second := ComputeNextRun(delay, test.window, ref)
				require.True(t, first.Equal(second), "non-deterministic result for %s %+v", ref, delay)

				delayed := addDelay(ref, delay)
				if test.window == nil {
					require.True(t, first.Equal(delayed), "result %s differs from delayed reference %s", first, delayed)
					continue
				}
				require.False(t, first.Before(delayed), "result %s before delayed reference for %s %+v", first, ref, delay)

				start, end, err := windowHours(*test.window)
				require.NoError(t, err)
				local := first.In(test.loc)
				if start == end {
					require.True(t, local.Hour() == start && local.Minute() == 0, "result %s is not the window start", local)
					require.True(t, local.After(delayed), "result %s not on a later day than %s", local, delayed)
					continue
				}
				require.GreaterOrEqual(t, local.Hour(), start, "result %s outside window", local)
				require.Less(t, local.Hour(), end, "result %s outside window", local)
			}
		})
	}
}
