package entity

import (
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 4, hour, minute, 0, 0, time.UTC)
}

func TestQuietHours_SameDayWindow(t *testing.T) {
	q := QuietHours{Enabled: true, Start: "09:00", End: "17:00"}

	if !q.Contains(at(12, 0)) {
		t.Fatal("12:00 should be inside 09:00-17:00")
	}
	if q.Contains(at(8, 59)) {
		t.Fatal("08:59 should be outside")
	}
	if q.Contains(at(17, 0)) {
		t.Fatal("end boundary is exclusive")
	}
	if !q.Contains(at(9, 0)) {
		t.Fatal("start boundary is inclusive")
	}
}

func TestQuietHours_OvernightWraparound(t *testing.T) {
	q := QuietHours{Enabled: true, Start: "22:00", End: "06:00"}

	if !q.Contains(at(23, 30)) {
		t.Fatal("23:30 should be inside 22:00-06:00")
	}
	if !q.Contains(at(2, 0)) {
		t.Fatal("02:00 should be inside 22:00-06:00")
	}
	if q.Contains(at(10, 0)) {
		t.Fatal("10:00 should be outside 22:00-06:00")
	}
	if q.Contains(at(6, 0)) {
		t.Fatal("end boundary is exclusive")
	}
}

func TestQuietHours_DisabledOrMalformed(t *testing.T) {
	if (QuietHours{Enabled: false, Start: "00:00", End: "23:59"}).Contains(at(12, 0)) {
		t.Fatal("disabled window should never match")
	}
	if (QuietHours{Enabled: true, Start: "25:00", End: "06:00"}).Contains(at(12, 0)) {
		t.Fatal("malformed start should disable the window")
	}
}

func TestDigestNextFlush_Daily(t *testing.T) {
	d := DigestSettings{Enabled: true, Frequency: DigestDaily, TimeOfDay: "09:00"}

	before := time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC)
	got := d.NextFlush(before)
	want := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("before today's slot: got %v, want %v", got, want)
	}

	after := time.Date(2026, time.March, 4, 9, 30, 0, 0, time.UTC)
	got = d.NextFlush(after)
	want = time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("past today's slot: got %v, want %v", got, want)
	}
}

func TestDigestNextFlush_Weekly(t *testing.T) {
	d := DigestSettings{Enabled: true, Frequency: DigestWeekly, TimeOfDay: "09:00"}

	// 2026-03-04 is a Wednesday; the next Monday is 2026-03-09.
	from := time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC)
	got := d.NextFlush(from)
	want := time.Date(2026, time.March, 9, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("weekly flush: got %v, want %v", got, want)
	}
	if got.Weekday() != time.Monday {
		t.Fatalf("weekly flush landed on %v", got.Weekday())
	}
}

func TestChannelSettingUsable(t *testing.T) {
	if (ChannelSetting{Enabled: true}).Usable(ChannelEmail) {
		t.Fatal("email without an address should not be usable")
	}
	if !(ChannelSetting{Enabled: true, Address: "a@b.c"}).Usable(ChannelEmail) {
		t.Fatal("email with an address should be usable")
	}
	if !(ChannelSetting{Enabled: true}).Usable(ChannelPush) {
		t.Fatal("push needs no contact info")
	}
	if (ChannelSetting{Enabled: false, Address: "a@b.c"}).Usable(ChannelEmail) {
		t.Fatal("disabled channel should not be usable")
	}
}

func TestChannelsFor(t *testing.T) {
	p := &UserNotificationPreferences{
		Enabled: true,
		Channels: map[Channel]ChannelSetting{
			ChannelEmail: {Enabled: true, Address: "a@b.c"},
			ChannelPush:  {Enabled: true},
			ChannelSMS:   {Enabled: false},
		},
		Overrides: map[string]CategoryOverride{
			"billing": {Channels: []Channel{ChannelSMS}},
		},
	}

	got := p.ChannelsFor("compliance", PriorityInfo)
	if len(got) != 1 || got[0] != ChannelEmail {
		t.Fatalf("info priority: got %v, want [email]", got)
	}

	got = p.ChannelsFor("compliance", PriorityCritical)
	if len(got) != 2 || got[0] != ChannelEmail || got[1] != ChannelPush {
		t.Fatalf("critical priority: got %v, want [email push]", got)
	}

	got = p.ChannelsFor("billing", PriorityCritical)
	if len(got) != 1 || got[0] != ChannelSMS {
		t.Fatalf("category override: got %v, want [sms]", got)
	}
}

func TestEffectivePriority(t *testing.T) {
	p := &UserNotificationPreferences{
		Overrides: map[string]CategoryOverride{
			"security": {Channels: []Channel{ChannelPush}, Priority: PriorityUrgent},
		},
	}

	if got := p.EffectivePriority("security", PriorityInfo); got != PriorityUrgent {
		t.Fatalf("override priority: got %v, want urgent", got)
	}
	if got := p.EffectivePriority("compliance", PriorityWarning); got != PriorityWarning {
		t.Fatalf("no override: got %v, want warning", got)
	}
}
