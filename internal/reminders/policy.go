package reminders

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
)

const (
	// MaxRelayFieldLen bounds who and text of relay reminders, which are
	// substituted into a fixed-length SMS template.
	MaxRelayFieldLen = 20

	// DefaultWho labels reminders whose originator is not given.
	DefaultWho = "匿名"
)

var strict = bluemonday.StrictPolicy()

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) (string, bool) {
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}

// plain strips markup from caller-supplied text.
func plain(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// PrepareContent applies the content policy for typ and returns the
// adjusted content with a warning per field that was cut.
func PrepareContent(typ Type, c Content) (Content, []string) {
	c.Text = plain(c.Text)
	c.Who = plain(c.Who)
	c.TargetPhone = strings.TrimSpace(c.TargetPhone)

	if typ != TypeRelay {
		return c, nil
	}

	if c.Who == "" {
		c.Who = DefaultWho
	}

	var warnings []string
	for _, f := range []struct {
		name string
		val  *string
	}{
		{"who", &c.Who},
		{"text", &c.Text},
	} {
		cut, truncated := Truncate(*f.val, MaxRelayFieldLen)
		if !truncated {
			continue
		}
		log.Warn().
			Str("field", f.name).
			Int("length", len([]rune(*f.val))).
			Int("max", MaxRelayFieldLen).
			Msg("Relay content truncated")
		warnings = append(warnings, fmt.Sprintf("%s truncated to %d characters", f.name, MaxRelayFieldLen))
		*f.val = cut
	}

	return c, warnings
}
