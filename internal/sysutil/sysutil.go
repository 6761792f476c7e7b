// Package sysutil holds process-level helpers shared by the binaries, the
// metadata scanners and the alert notifier.
package sysutil

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a config value and returns
// the level applied. Blank or unknown values mean info; "warning" is
// accepted for warn.
func SetLogLevel(lvl string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(lvl))
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// FirstNonEmpty returns the first non-blank value as given. It returns ""
// when every value is blank.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// TruncateRunes caps s at max runes, replacing the tail with "..." when it
// had to cut. Discord limits count characters, not bytes.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
