package clock

import (
	"context"
	"io"
	"log"
	"testing"
	"time"
)

func TestParseHM(t *testing.T) {
	tests := []struct {
		in      string
		want    HM
		wantErr bool
	}{
		{in: "09:30", want: HM{9, 30}},
		{in: "16:00", want: HM{16, 0}},
		{in: "0:05", want: HM{0, 5}},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHM(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHM(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseHM(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestHMAddAndBefore(t *testing.T) {
	if got := (HM{10, 0}).Add(30); got != (HM{10, 30}) {
		t.Errorf("10:00 + 30m = %v, want 10:30", got)
	}
	if got := (HM{11, 30}).Add(30); got != (HM{12, 0}) {
		t.Errorf("11:30 + 30m = %v, want 12:00", got)
	}
	if !(HM{9, 30}).Before(HM{10, 0}) {
		t.Error("09:30 should be before 10:00")
	}
	if (HM{12, 0}).Before(HM{12, 0}) {
		t.Error("12:00 should not be before itself")
	}
}

func TestAt(t *testing.T) {
	loc := time.FixedZone("ET", -5*3600)
	date := time.Date(2026, 3, 16, 14, 22, 9, 0, time.UTC)

	got := At(loc, date, HM{9, 30})
	want := time.Date(2026, 3, 16, 9, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("At() = %v, want %v", got, want)
	}
}

func TestWaitUntilAlreadyPast(t *testing.T) {
	c := NewReal("", log.New(io.Discard, "", 0))
	now := c.Now()

	start := time.Now()
	if err := c.WaitUntil(context.Background(), HM{now.Hour(), now.Minute()}, "test"); err != nil {
		t.Fatalf("WaitUntil returned error: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("WaitUntil for a past target should return immediately")
	}
}

func TestWaitUntilCanceled(t *testing.T) {
	c := NewReal("", log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A target comfortably in the future from any test run time.
	target := c.Now().Add(2 * time.Hour)
	err := c.WaitUntil(ctx, HM{target.Hour(), target.Minute()}, "test")
	if err == nil {
		t.Fatal("WaitUntil with canceled context should error")
	}
}

func TestSleepCanceled(t *testing.T) {
	c := NewReal("", log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Sleep(ctx, time.Minute); err == nil {
		t.Fatal("Sleep with canceled context should error")
	}
}

func TestIsTradingDay(t *testing.T) {
	tests := []struct {
		name     string
		t        time.Time
		holidays []string
		want     bool
	}{
		{
			name: "monday",
			t:    time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "saturday",
			t:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "sunday",
			t:    time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name:     "listed holiday",
			t:        time.Date(2026, 7, 3, 10, 0, 0, 0, time.UTC),
			holidays: []string{"2026-07-03"},
			want:     false,
		},
		{
			name:     "weekday not listed",
			t:        time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC),
			holidays: []string{"2026-07-03"},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTradingDay(tt.t, tt.holidays); got != tt.want {
				t.Errorf("IsTradingDay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRealFallsBackWithoutZoneData(t *testing.T) {
	c := NewReal("Not/AZone", log.New(io.Discard, "", 0))
	if c.Location() == nil {
		t.Fatal("clock must always carry a location")
	}
	_, offset := c.Now().Zone()
	if offset > 0 {
		t.Error("fallback zone should sit west of UTC")
	}
}
