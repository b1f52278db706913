// Package settings holds the observing user's notification preferences and the
// admission predicate the dispatcher consults before every delivery.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tier is the settings-side priority of a notification.
type Tier int

const (
	TierLow Tier = iota
	TierNormal
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierNormal:
		return "normal"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// QuietHours is a daily window, in the user's timezone, during which only
// overriding alerts are delivered. Start and End are "HH:MM"; a window whose
// start is after its end spans midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Start   string `json:"start" yaml:"start"`
	End     string `json:"end" yaml:"end"`
}

// Settings are the per-user delivery preferences.
type Settings struct {
	PushEnabled      bool       `json:"pushEnabled" yaml:"push_enabled"`
	SoundEnabled     bool       `json:"soundEnabled" yaml:"sound_enabled"`
	VibrationEnabled bool       `json:"vibrationEnabled" yaml:"vibration_enabled"`
	PanicOverride    bool       `json:"panicOverride" yaml:"panic_override"`
	QuietHours       QuietHours `json:"quietHours" yaml:"quiet_hours"`
}

// Defaults returns the settings used before the user has saved any: everything
// enabled and no quiet hours.
func Defaults() Settings {
	return Settings{
		PushEnabled:      true,
		SoundEnabled:     true,
		VibrationEnabled: true,
		PanicOverride:    true,
		QuietHours: QuietHours{
			Enabled: false,
			Start:   "22:00",
			End:     "07:00",
		},
	}
}

// Validate checks the quiet-hour times.
func (s Settings) Validate() error {
	if _, err := parseClock(s.QuietHours.Start); err != nil {
		return fmt.Errorf("quiet hours start: %w", err)
	}
	if _, err := parseClock(s.QuietHours.End); err != nil {
		return fmt.Errorf("quiet hours end: %w", err)
	}
	return nil
}

// Contains reports whether t falls inside the window. A disabled window, an
// unparsable one or one with equal start and end contains nothing.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}

	m := t.Hour()*60 + t.Minute()
	switch {
	case start == end:
		return false
	case start < end:
		return m >= start && m < end
	default:
		return m >= start || m < end
	}
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
