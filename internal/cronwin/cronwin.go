// Package cronwin computes the capture window for one scheduled tracking
// fire: the span between the two most recent cron occurrences, adjusted by
// the last successful run.
package cronwin

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// MaxCatchUp bounds how far behind the previous occurrence a window may
// start. A runner that was down for days resumes with at most this much
// history instead of re-reading the whole outage.
const MaxCatchUp = 15 * time.Minute

// Window is a half-open capture span: messages with Start < t <= End belong
// to it.
type Window struct {
	Start time.Time
	End   time.Time
}

// ContainsMS reports whether a millisecond timestamp falls inside the window.
func (w Window) ContainsMS(ms int64) bool {
	t := time.UnixMilli(ms)
	return t.After(w.Start) && !t.After(w.End)
}

// Empty reports whether the window covers no time at all.
func (w Window) Empty() bool { return !w.Start.Before(w.End) }

// Compute resolves the window for expr at now, evaluated in loc.
//
// End is the most recent occurrence at or before now. The ideal start is the
// occurrence immediately before End. When lastRun is known it takes over:
// verbatim if it is at or past the ideal start, as a catch-up point when it
// trails by at most MaxCatchUp, and otherwise the start is capped to
// End-MaxCatchUp (never earlier than lastRun).
func Compute(expr string, loc *time.Location, now time.Time, lastRun *time.Time) (Window, error) {
	g := gronx.New()
	if !g.IsValid(expr) {
		return Window{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	if loc == nil {
		loc = time.UTC
	}
	localNow := now.In(loc)

	end, err := prevOccurrence(g, expr, localNow, true)
	if err != nil {
		return Window{}, fmt.Errorf("resolve window end: %w", err)
	}
	idealStart, err := prevOccurrence(g, expr, end, false)
	if err != nil {
		return Window{}, fmt.Errorf("resolve window start: %w", err)
	}

	start := idealStart
	if lastRun != nil {
		lr := lastRun.In(loc)
		switch {
		case !lr.Before(idealStart):
			start = lr
		case idealStart.Sub(lr) <= MaxCatchUp:
			start = lr
		default:
			start = end.Add(-MaxCatchUp)
			if start.Before(lr) {
				start = lr
			}
		}
	}
	return Window{Start: start, End: end}, nil
}

// prevOccurrence finds the latest instant matching expr before pivot (at or
// before, when inclusive). Two daylight-saving corrections apply on top of
// the library answer:
//
//  1. Around a fall-back transition the computed candidate can be a
//     wall-clock minute the expression never matches; the real occurrence
//     then sits between the candidate and the pivot, found by scanning
//     forward.
//  2. An ambiguous wall-clock time exists at two instants. When the other
//     fold of the candidate or of the pivot matches the expression and sits
//     later in (candidate, pivot], it is the more recent occurrence.
func prevOccurrence(g *gronx.Gronx, expr string, pivot time.Time, inclusive bool) (time.Time, error) {
	cand, err := gronx.PrevTickBefore(expr, pivot, inclusive)
	if err != nil {
		return time.Time{}, err
	}
	if due, err := g.IsDue(expr, cand); err != nil {
		return time.Time{}, err
	} else if !due {
		next, err := gronx.NextTickAfter(expr, cand, false)
		if err != nil {
			return time.Time{}, err
		}
		if !beforePivot(next, pivot, inclusive) {
			return time.Time{}, fmt.Errorf("no occurrence of %q before %s", expr, pivot)
		}
		cand = next
	}
	for _, alt := range []time.Time{otherFold(cand), otherFold(pivot)} {
		if alt.IsZero() || !alt.After(cand) || !beforePivot(alt, pivot, inclusive) {
			continue
		}
		if due, err := g.IsDue(expr, alt); err == nil && due {
			cand = alt
		}
	}
	return cand, nil
}

func beforePivot(t, pivot time.Time, inclusive bool) bool {
	if inclusive {
		return !t.After(pivot)
	}
	return t.Before(pivot)
}

// otherFold returns the second instant sharing t's wall-clock reading, or the
// zero time when t is unambiguous. Offsets of one hour and thirty minutes
// cover every zone database transition in use.
func otherFold(t time.Time) time.Time {
	for _, d := range []time.Duration{
		time.Hour, -time.Hour, 30 * time.Minute, -30 * time.Minute,
	} {
		alt := t.Add(d)
		if sameWallClock(alt, t) {
			return alt
		}
	}
	return time.Time{}
}

func sameWallClock(a, b time.Time) bool {
	ah, am, _ := a.Clock()
	bh, bm, _ := b.Clock()
	ay, amo, ad := a.Date()
	by, bmo, bd := b.Date()
	return ah == bh && am == bm && ay == by && amo == bmo && ad == bd
}
