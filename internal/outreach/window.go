package outreach

import "time"

// WindowState classifies an instant relative to the daily send window.
type WindowState int

const (
	// WindowWait: before the window opens — defer, never send early.
	WindowWait WindowState = iota
	// WindowOpen: inside [start, preferredEnd) — send normally.
	WindowOpen
	// WindowGrace: inside [preferredEnd, hardCutoff) — keep sending only
	// items already pending; a soft extension, not a new window.
	WindowGrace
	// WindowClosed: at or past the hard cutoff — stop and reschedule.
	WindowClosed
)

func (s WindowState) String() string {
	switch s {
	case WindowWait:
		return "wait"
	case WindowOpen:
		return "open"
	case WindowGrace:
		return "grace"
	case WindowClosed:
		return "closed"
	}
	return "unknown"
}

// Window is the daily interval during which outreach sends are permitted.
type Window struct {
	StartHour  int // window opens, local time
	EndHour    int // preferred end, local time
	GraceHours int // hard cutoff = EndHour + GraceHours
	Loc        *time.Location
}

// StateAt classifies t against the window for t's calendar day.
func (w Window) StateAt(t time.Time) WindowState {
	local := t.In(w.Loc)
	start := w.at(local, w.StartHour)
	end := w.at(local, w.EndHour)
	cutoff := end.Add(time.Duration(w.GraceHours) * time.Hour)

	switch {
	case local.Before(start):
		return WindowWait
	case local.Before(end):
		return WindowOpen
	case local.Before(cutoff):
		return WindowGrace
	default:
		return WindowClosed
	}
}

// OpensAt returns the window opening instant on t's calendar day.
func (w Window) OpensAt(t time.Time) time.Time {
	return w.at(t.In(w.Loc), w.StartHour)
}

// SameTimeTomorrow returns at's time-of-day on the calendar day after
// now. Items cut off today are rescheduled with this, never dropped;
// anchoring on now keeps an item overdue by several days from landing in
// the past again.
func (w Window) SameTimeTomorrow(now, at time.Time) time.Time {
	day := now.In(w.Loc).AddDate(0, 0, 1)
	clock := at.In(w.Loc)
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), w.Loc)
}

func (w Window) at(local time.Time, hour int) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, w.Loc)
}
