package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DigestFrequency string

const (
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"

	// Weekly digests flush on Monday at the configured time of day.
	digestWeekday = time.Monday
)

// ChannelSetting is the per-channel enable flag plus the contact info the
// adapter needs. A channel without contact info is silently skipped, not an
// error.
type ChannelSetting struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"`
}

func (c ChannelSetting) Usable(channel Channel) bool {
	if !c.Enabled {
		return false
	}
	// In-app push needs no contact info; it targets the user id.
	if channel == ChannelPush {
		return true
	}
	return c.Address != ""
}

// CategoryOverride routes one category to an explicit channel list,
// optionally overriding the effective priority.
type CategoryOverride struct {
	Channels []Channel `json:"channels"`
	Priority Priority  `json:"priority,omitempty"`
}

// QuietHours is a minute-of-day window; Start > End means the window wraps
// past midnight (e.g. 22:00-06:00).
type QuietHours struct {
	Enabled     bool   `json:"enabled"`
	Start       string `json:"start"`
	End         string `json:"end"`
	AllowUrgent bool   `json:"allow_urgent"`
}

// Contains reports whether t falls inside the window, handling overnight
// wraparound by comparing minute-of-day.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := parseMinuteOfDay(q.Start)
	if err != nil {
		return false
	}
	end, err := parseMinuteOfDay(q.End)
	if err != nil {
		return false
	}
	now := t.Hour()*60 + t.Minute()

	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func parseMinuteOfDay(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("time %q: %w", s, ErrInvalidData)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %q: %w", hh, ErrInvalidData)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("minute %q: %w", mm, ErrInvalidData)
	}
	return h*60 + m, nil
}

type DigestSettings struct {
	Enabled   bool            `json:"enabled"`
	Frequency DigestFrequency `json:"frequency"`
	TimeOfDay string          `json:"time_of_day"`
}

// NextFlush computes the next digest delivery time strictly after `from`.
func (d DigestSettings) NextFlush(from time.Time) time.Time {
	minute, err := parseMinuteOfDay(d.TimeOfDay)
	if err != nil {
		minute = 9 * 60
	}
	next := time.Date(from.Year(), from.Month(), from.Day(), minute/60, minute%60, 0, 0, from.Location())

	switch d.Frequency {
	case DigestWeekly:
		for next.Weekday() != digestWeekday || !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
	default:
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
	}
	return next
}

// UserNotificationPreferences is the per-user routing record. Created with
// defaults on first notification if absent, mutated by the settings UI,
// never deleted.
type UserNotificationPreferences struct {
	UserID    uuid.UUID                   `json:"user_id"`
	Enabled   bool                        `json:"enabled"`
	Channels  map[Channel]ChannelSetting  `json:"channels"`
	Overrides map[string]CategoryOverride `json:"overrides,omitempty"`
	Quiet     QuietHours                  `json:"quiet_hours"`
	Digest    DigestSettings              `json:"digest"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// DefaultPreferences: email and in-app push on, quiet hours 20:00-08:00
// with the urgent override allowed, digest off.
func DefaultPreferences(userID uuid.UUID) *UserNotificationPreferences {
	now := time.Now().UTC()
	return &UserNotificationPreferences{
		UserID:  userID,
		Enabled: true,
		Channels: map[Channel]ChannelSetting{
			ChannelEmail: {Enabled: true},
			ChannelPush:  {Enabled: true},
		},
		Quiet: QuietHours{
			Enabled:     true,
			Start:       "20:00",
			End:         "08:00",
			AllowUrgent: true,
		},
		Digest: DigestSettings{
			Enabled:   false,
			Frequency: DigestDaily,
			TimeOfDay: "09:00",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ChannelsFor resolves the target channel list before contact-info and
// quiet-hours filtering: an explicit category override wins; otherwise
// critical/urgent fan out to every enabled channel and everything else goes
// to email only.
func (p *UserNotificationPreferences) ChannelsFor(category string, priority Priority) []Channel {
	if ov, ok := p.Overrides[category]; ok && len(ov.Channels) > 0 {
		return ov.Channels
	}

	if priority.Immediate() {
		var all []Channel
		for _, ch := range ChannelOrder {
			if p.Channels[ch].Enabled {
				all = append(all, ch)
			}
		}
		return all
	}
	return []Channel{ChannelEmail}
}

// EffectivePriority applies a category's priority override when present.
func (p *UserNotificationPreferences) EffectivePriority(category string, priority Priority) Priority {
	if ov, ok := p.Overrides[category]; ok && ov.Priority.IsValid() {
		return ov.Priority
	}
	return priority
}
