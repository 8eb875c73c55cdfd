// Package schedule normalizes caller-supplied schedule values and computes
// firing times for each schedule mode.
package schedule

import "strings"

// Mode is the recurrence policy of a trigger.
type Mode string

const (
	ModeCron       Mode = "CRON"
	ModeFixedDelay Mode = "FIXED_DELAY"
	ModeFixedRate  Mode = "FIXED_RATE"
	ModeOneTime    Mode = "ONE_TIME"
	// ModeTrigger fires only when invoked explicitly, never on a clock.
	ModeTrigger Mode = "TRIGGER"
)

var modes = map[Mode]struct{}{
	ModeCron:       {},
	ModeFixedDelay: {},
	ModeFixedRate:  {},
	ModeOneTime:    {},
	ModeTrigger:    {},
}

// ParseMode resolves a mode name case-insensitively.
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := modes[m]
	return m, ok
}

func (m Mode) Valid() bool {
	_, ok := modes[m]
	return ok
}

// Recurring reports whether a firing of this mode schedules another one.
func (m Mode) Recurring() bool {
	return m == ModeCron || m == ModeFixedDelay || m == ModeFixedRate
}

func (m Mode) String() string {
	return string(m)
}
