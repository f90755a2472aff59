package system_test

import (
	"testing"
	"time"

	"github.com/JakeFAU/timeline-harvester/internal/clock/system"
	"github.com/JakeFAU/timeline-harvester/internal/crawler"
)

var _ crawler.Clock = system.Clock{}

func TestNowIsUTC(t *testing.T) {
	t.Parallel()

	got := system.New().Now()
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	name, offset := got.Zone()
	if name != "UTC" || offset != 0 {
		t.Fatalf("expected zone UTC+0, got %s%+d", name, offset)
	}
}

func TestNowTracksWallClock(t *testing.T) {
	t.Parallel()

	var clk system.Clock
	before := time.Now()
	got := clk.Now()
	after := time.Now()
	if got.Before(before.Add(-time.Millisecond)) || got.After(after.Add(time.Millisecond)) {
		t.Fatalf("expected %v within [%v, %v]", got, before, after)
	}
	if later := clk.Now(); later.Before(got) {
		t.Fatalf("expected non-decreasing readings, got %v then %v", got, later)
	}
}

func TestDurationsSpanRunBoundaries(t *testing.T) {
	t.Parallel()

	// The engine subtracts readings taken at run start and finish.
	clk := system.New()
	start := clk.Now()
	time.Sleep(2 * time.Millisecond)
	if elapsed := clk.Now().Sub(start); elapsed < 2*time.Millisecond {
		t.Fatalf("expected at least 2ms elapsed, got %v", elapsed)
	}
}
