package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/apperr"
)

// AbsoluteThresholdMillis separates relative delays from absolute epoch
// timestamps for ONE_TIME values. Anything at or above it (around 2033) is
// already absolute.
const AbsoluteThresholdMillis int64 = 2_000_000_000_000

// Normalizer converts raw schedule values into their stored form.
type Normalizer struct {
	// Strict rejects unknown modes instead of falling back to FIXED_DELAY.
	Strict bool
	now    func() time.Time
}

func NewNormalizer(strict bool) *Normalizer {
	return &Normalizer{Strict: strict, now: time.Now}
}

// WithClock returns a copy of n that reads the current time from now.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	c := *n
	c.now = now
	return &c
}

// Normalize resolves the mode and returns the canonical stored value for it.
func (n *Normalizer) Normalize(rawMode, value string) (Mode, string, error) {
	mode, ok := ParseMode(rawMode)
	if !ok {
		if n.Strict {
			return "", "", apperr.Validationf("schedule.normalize", "unknown schedule mode %q", rawMode)
		}
		log.Warn().
			Str("mode", rawMode).
			Str("fallback", string(ModeFixedDelay)).
			Msg("Unknown schedule mode, falling back")
		mode = ModeFixedDelay
	}

	value = strings.TrimSpace(value)

	switch mode {
	case ModeOneTime:
		return mode, n.normalizeOneTime(value), nil
	default:
		return mode, value, nil
	}
}

func (n *Normalizer) normalizeOneTime(value string) string {
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// Pre-formatted absolute timestamp.
		return value
	}
	if v >= AbsoluteThresholdMillis {
		return value
	}
	return strconv.FormatInt(n.now().UnixMilli()+v, 10)
}
