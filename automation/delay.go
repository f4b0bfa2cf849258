package automation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"dripline/models"
)

// ComputeNextRun returns when a step with the given delay becomes eligible,
// counting from ref. With a send window the candidate is folded into the
// window using ref's location: before the start hour it moves to the start
// the same day, at or after the end hour it moves to the start the next day.
// A window whose start equals its end always folds to the next day's start.
func ComputeNextRun(delay models.Delay, window *models.SendWindow, ref time.Time) time.Time {
	next := addDelay(ref, delay)
	if window == nil {
		return next
	}
	start, end, err := windowHours(*window)
	if err != nil {
		return next
	}

	windowStart := time.Date(next.Year(), next.Month(), next.Day(), start, 0, 0, 0, next.Location())
	switch {
	case start == end:
		return windowStart.AddDate(0, 0, 1)
	case next.Hour() < start:
		return windowStart
	case next.Hour() >= end:
		return windowStart.AddDate(0, 0, 1)
	}
	return next
}

func addDelay(ref time.Time, delay models.Delay) time.Time {
	if delay.Value <= 0 {
		return ref
	}
	switch delay.Unit {
	case models.DelayMinutes:
		return ref.Add(time.Duration(delay.Value * float64(time.Minute)))
	case models.DelayHours:
		return ref.Add(time.Duration(delay.Value * float64(time.Hour)))
	case models.DelayDays:
		// Whole days are calendar days so DST shifts keep the wall-clock time.
		days, frac := math.Modf(delay.Value)
		return ref.AddDate(0, 0, int(days)).Add(time.Duration(frac * float64(24*time.Hour)))
	}
	return ref
}

func windowHours(w models.SendWindow) (start, end int, err error) {
	if start, err = parseHour(w.Start); err != nil {
		return 0, 0, err
	}
	if end, err = parseHour(w.End); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseHour(clock string) (int, error) {
	h, _, ok := strings.Cut(clock, ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", clock)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid clock time %q", clock)
	}
	return hour, nil
}

// sequenceLocation resolves the timezone a sequence's window is expressed in.
func sequenceLocation(seq models.Sequence, fallback *time.Location) *time.Location {
	if seq.SendWindow != nil && seq.SendWindow.Timezone != "" {
		if loc, err := time.LoadLocation(seq.SendWindow.Timezone); err == nil {
			return loc
		}
	}
	return fallback
}
