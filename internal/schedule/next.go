package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the smallest FIXED_DELAY or FIXED_RATE interval accepted.
const MinInterval = time.Second

var oneTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// Planner computes firing times. Cron expressions accept an optional
// leading seconds field, descriptors such as @daily, and "?" as a wildcard.
type Planner struct {
	parser cron.Parser
	loc    *time.Location
}

func NewPlanner(loc *time.Location) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	return &Planner{
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		loc: loc,
	}
}

// NewPlannerForZone loads the named IANA zone.
func NewPlannerForZone(name string) (*Planner, error) {
	if name == "" {
		return NewPlanner(time.UTC), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}
	return NewPlanner(loc), nil
}

// ParseCron parses a cron expression.
func (p *Planner) ParseCron(expression string) (cron.Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	return sched, nil
}

// ParseInterval parses a FIXED_DELAY or FIXED_RATE value. Plain integers are
// milliseconds; Go duration strings such as "5m" are accepted too.
func ParseInterval(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)

	var d time.Duration
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		d = time.Duration(ms) * time.Millisecond
	} else {
		d, err = time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("parsing interval: %w", err)
		}
	}

	if d < MinInterval {
		return 0, fmt.Errorf("interval must be at least %s", MinInterval)
	}
	return d, nil
}

// ParseOneTime parses a normalized ONE_TIME value: epoch milliseconds or a
// formatted timestamp. Timestamps without a zone are read in the planner's
// location.
func (p *Planner) ParseOneTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range oneTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, p.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing one-time timestamp %q", value)
}

// Validate checks that value is usable for mode.
func (p *Planner) Validate(mode Mode, value string) error {
	var err error
	switch mode {
	case ModeCron:
		_, err = p.ParseCron(value)
	case ModeFixedDelay, ModeFixedRate:
		_, err = ParseInterval(value)
	case ModeOneTime:
		_, err = p.ParseOneTime(value)
	case ModeTrigger:
	default:
		err = fmt.Errorf("unknown schedule mode: %s", mode)
	}
	return err
}

// FirstFire returns when a newly activated trigger should fire first. The
// boolean is false for modes that never fire on a clock.
func (p *Planner) FirstFire(mode Mode, value string, now time.Time) (time.Time, bool, error) {
	switch mode {
	case ModeOneTime:
		t, err := p.ParseOneTime(value)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil

	case ModeCron:
		sched, err := p.ParseCron(value)
		if err != nil {
			return time.Time{}, false, err
		}
		return sched.Next(now.In(p.loc)).UTC(), true, nil

	case ModeFixedDelay, ModeFixedRate:
		d, err := ParseInterval(value)
		if err != nil {
			return time.Time{}, false, err
		}
		return now.Add(d).UTC(), true, nil

	case ModeTrigger:
		return time.Time{}, false, nil

	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule mode: %s", mode)
	}
}

// NextFire returns the firing after one that was scheduled for scheduled and
// finished at completed. FIXED_DELAY counts from completion, FIXED_RATE from
// the scheduled start, so FIXED_RATE can fall behind when firings run long.
func (p *Planner) NextFire(mode Mode, value string, scheduled, completed time.Time) (time.Time, bool, error) {
	switch mode {
	case ModeOneTime, ModeTrigger:
		return time.Time{}, false, nil

	case ModeCron:
		sched, err := p.ParseCron(value)
		if err != nil {
			return time.Time{}, false, err
		}
		after := scheduled
		if completed.After(after) {
			after = completed
		}
		return sched.Next(after.In(p.loc)).UTC(), true, nil

	case ModeFixedDelay:
		d, err := ParseInterval(value)
		if err != nil {
			return time.Time{}, false, err
		}
		return completed.Add(d).UTC(), true, nil

	case ModeFixedRate:
		d, err := ParseInterval(value)
		if err != nil {
			return time.Time{}, false, err
		}
		return scheduled.Add(d).UTC(), true, nil

	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule mode: %s", mode)
	}
}
