package models

import (
	"errors"
	"strings"
	"testing"
)

func TestNewSnapshotRejectsNegativeReportCount(t *testing.T) {
	_, err := NewSnapshot(Snapshot{ServiceID: "google", Status: StatusDown, Severity: SeverityLow, ReportCount: -1})
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestNewSnapshotRejectsUnknownEnums(t *testing.T) {
	if _, err := NewSnapshot(Snapshot{ServiceID: "x", Status: "degraded", Severity: SeverityLow}); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected status rejection, got %v", err)
	}
	if _, err := NewSnapshot(Snapshot{ServiceID: "x", Status: StatusUp, Severity: "extreme"}); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected severity rejection, got %v", err)
	}
	if _, err := NewSnapshot(Snapshot{ServiceID: "  ", Status: StatusUp, Severity: SeverityLow}); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected id rejection, got %v", err)
	}
}

func TestNewSnapshotCapsRegionsAndCopies(t *testing.T) {
	regions := make([]string, 0, 15)
	for i := 0; i < 15; i++ {
		regions = append(regions, string(rune('A'+i)))
	}
	snap, err := NewSnapshot(Snapshot{
		ServiceID:       "google",
		Status:          StatusDown,
		Severity:        SeverityHigh,
		AffectedRegions: regions,
		Description:     strings.Repeat("x", 700),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.AffectedRegions) != MaxAffectedRegions {
		t.Fatalf("expected %d regions, got %d", MaxAffectedRegions, len(snap.AffectedRegions))
	}
	regions[0] = "mutated"
	if snap.AffectedRegions[0] != "A" {
		t.Fatalf("snapshot aliases caller slice")
	}
	if len(snap.Description) != MaxDescriptionLength {
		t.Fatalf("expected description capped at %d, got %d", MaxDescriptionLength, len(snap.Description))
	}
	if snap.ObservedAt.IsZero() {
		t.Fatalf("expected observed_at to default")
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	order := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if Severity("bogus").Rank() != -1 {
		t.Fatalf("unknown severity should rank -1")
	}
}

func TestSeverityForReports(t *testing.T) {
	cases := map[int]Severity{
		0:     SeverityLow,
		1000:  SeverityLow,
		1001:  SeverityMedium,
		5001:  SeverityHigh,
		10001: SeverityCritical,
	}
	for count, want := range cases {
		if got := SeverityForReports(count); got != want {
			t.Fatalf("reports=%d: expected %s, got %s", count, want, got)
		}
	}
}

func TestParseStatusCaseInsensitive(t *testing.T) {
	s, err := ParseStatus(" DOWN ")
	if err != nil || s != StatusDown {
		t.Fatalf("expected down, got %q (%v)", s, err)
	}
	if _, err := ParseStatus("sideways"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
