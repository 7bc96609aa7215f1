package risk

import "time"

// HourStrategy decides whether a login time is unusual for an identity.
type HourStrategy interface {
	Unusual(identity string, at time.Time, history []LoginRecord) bool
}

// HourStrategyFunc adapts a function to [HourStrategy].
type HourStrategyFunc func(identity string, at time.Time, history []LoginRecord) bool

func (f HourStrategyFunc) Unusual(identity string, at time.Time, history []LoginRecord) bool {
	return f(identity, at, history)
}

// HourWindow flags logins whose clock hour falls in [Start, End) in Location.
// A window with Start > End wraps midnight.
type HourWindow struct {
	Start    int
	End      int
	Location *time.Location
}

// DefaultHourWindow flags 02:00–05:00 UTC.
func DefaultHourWindow() HourWindow {
	return HourWindow{Start: 2, End: 5, Location: time.UTC}
}

func (w HourWindow) Unusual(_ string, at time.Time, _ []LoginRecord) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	h := at.In(loc).Hour()
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return h >= w.Start && h < w.End
	}
	return h >= w.Start || h < w.End
}

// HourBaseline flags a login when the identity has at least MinSamples
// successful logins on record and fewer than MinShare of them fall within
// Tolerance hours of the current hour. Identities with thin history fall
// back to Fallback.
type HourBaseline struct {
	MinSamples int
	MinShare   float64
	Tolerance  int
	Fallback   HourStrategy
}

func (b HourBaseline) Unusual(identity string, at time.Time, history []LoginRecord) bool {
	hour := at.UTC().Hour()
	total, near := 0, 0
	for i := range history {
		r := &history[i]
		if !r.Succeeded || r.At.After(at) {
			continue
		}
		total++
		if hourDistance(r.At.UTC().Hour(), hour) <= b.Tolerance {
			near++
		}
	}
	if total < b.MinSamples || total == 0 {
		if b.Fallback == nil {
			return false
		}
		return b.Fallback.Unusual(identity, at, history)
	}
	return float64(near)/float64(total) < b.MinShare
}

func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}
