package sched

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pmorton/custodian/internal/config"
)

// WindowKind identifies one execution window class.
type WindowKind string

const (
	WindowUserRest      WindowKind = "user_rest"
	WindowSystemIdle    WindowKind = "system_idle"
	WindowCollaboration WindowKind = "collaboration"
	WindowRealTimeMicro WindowKind = "realtime_micro"
)

// windowPrecedence orders window checks from broadest to narrowest. BestWindow
// returns the first match in this order.
var windowPrecedence = []WindowKind{
	WindowUserRest,
	WindowSystemIdle,
	WindowCollaboration,
	WindowRealTimeMicro,
}

// LoadSnapshot carries the point-in-time system load used by the idle check.
type LoadSnapshot struct {
	CPUPercent    float64
	MemoryPercent float64
}

// ActivityProbe reports whether a high-priority foreground task is running.
// The micro window opens only when no such task is active.
type ActivityProbe func() bool

// Evaluator decides whether a given moment falls inside an execution window.
// Every decision is a pure function of its inputs; malformed configuration
// fails closed.
type Evaluator struct {
	cfg   config.TimingConfig
	probe ActivityProbe
}

// NewEvaluator creates an evaluator over the timing configuration. probe may
// be nil, which counts as no foreground activity.
func NewEvaluator(cfg config.TimingConfig, probe ActivityProbe) *Evaluator {
	return &Evaluator{cfg: cfg, probe: probe}
}

// IsOptimal reports whether now falls inside the given window. Unknown window
// kinds and disabled windows return false.
func (e *Evaluator) IsOptimal(kind WindowKind, now time.Time, load LoadSnapshot) bool {
	switch kind {
	case WindowUserRest:
		return e.inUserRest(now)
	case WindowSystemIdle:
		return e.inSystemIdle(now, load)
	case WindowCollaboration:
		return e.inCollaboration(now)
	case WindowRealTimeMicro:
		return e.inMicro(now, load)
	default:
		return false
	}
}

// BestWindow returns the broadest window open at the given moment, or ok=false
// when none are.
func (e *Evaluator) BestWindow(now time.Time, load LoadSnapshot) (WindowKind, bool) {
	for _, kind := range windowPrecedence {
		if e.IsOptimal(kind, now, load) {
			return kind, true
		}
	}
	return "", false
}

// inUserRest checks the nightly rest range. A start hour after the end hour
// means the range wraps midnight.
func (e *Evaluator) inUserRest(now time.Time) bool {
	c := e.cfg.UserRest
	if !c.Enabled {
		return false
	}
	if c.StartHour < 0 || c.StartHour > 23 || c.EndHour < 0 || c.EndHour > 23 {
		return false
	}
	return hourInRange(now.Hour(), c.StartHour, c.EndHour)
}

func (e *Evaluator) inSystemIdle(now time.Time, load LoadSnapshot) bool {
	c := e.cfg.SystemIdle
	if !c.Enabled {
		return false
	}
	if c.QuietStartHour < 0 || c.QuietStartHour > 23 || c.QuietEndHour < 0 || c.QuietEndHour > 23 {
		return false
	}
	if !hourInRange(now.Hour(), c.QuietStartHour, c.QuietEndHour) {
		return false
	}
	return load.CPUPercent < c.CPUThreshold && load.MemoryPercent < c.MemoryThreshold
}

func (e *Evaluator) inCollaboration(now time.Time) bool {
	c := e.cfg.Collaboration
	if !c.Enabled {
		return false
	}
	if c.WeekendEnabled {
		wd := now.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return true
		}
	}
	minutes := now.Hour()*60 + now.Minute()
	for _, w := range c.DailyWindows {
		if !w.Enabled {
			continue
		}
		start, err := parseClock(w.Start)
		if err != nil {
			log.Warn().Str("window", w.Start).Msg("malformed collaboration window start, skipping")
			continue
		}
		end, err := parseClock(w.End)
		if err != nil {
			log.Warn().Str("window", w.End).Msg("malformed collaboration window end, skipping")
			continue
		}
		if minuteInRange(minutes, start, end) {
			return true
		}
	}
	return false
}

// inMicro opens the micro window only while the system is idle and no
// high-priority foreground task is running. The duration ceiling is enforced
// per task at dispatch, not here.
func (e *Evaluator) inMicro(now time.Time, load LoadSnapshot) bool {
	c := e.cfg.Micro
	if !c.Enabled || c.MaxDurationMinutes <= 0 {
		return false
	}
	if e.probe != nil && e.probe() {
		return false
	}
	return e.inSystemIdle(now, load)
}

// MicroCeiling returns the maximum task duration the micro window admits.
func (e *Evaluator) MicroCeiling() time.Duration {
	return time.Duration(e.cfg.Micro.MaxDurationMinutes) * time.Minute
}

// hourInRange is inclusive at start, exclusive at end, wrapping midnight when
// start > end. start == end means an empty range.
func hourInRange(h, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// minuteInRange is the minutes-since-midnight variant of hourInRange.
func minuteInRange(m, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	return h*60 + m, nil
}
