// Package conflict provides unit tests for conflict detection and resolution.
package conflict

import (
	"strings"
	"testing"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/clock"
	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResolver(m Merger) *Resolver {
	return NewResolver(m, clock.NewFake(testNow), "tester")
}

func sampleRecord() *Record {
	remote := models.Millis(testNow)
	return &Record{
		ResourceID:      "r1",
		ItemID:          "item-1",
		LocalContent:    "A\nB",
		RemoteContent:   "A\nC",
		LocalUpdatedAt:  remote - 60_000,
		RemoteUpdatedAt: remote,
	}
}

// =====================================================
// Detector Tests
// =====================================================

// TestDetect tests the window and content checks.
func TestDetect(t *testing.T) {
	remote := models.Millis(testNow)
	window := DefaultWindow.Milliseconds()

	items := []*models.Item{
		{ID: "inside", ResourceID: "r1", Content: "A\nB", UpdatedAt: remote - 60_000},
		{ID: "inside-after", ResourceID: "r1", Content: "A\nB", UpdatedAt: remote + 60_000},
		{ID: "same-content", ResourceID: "r1", Content: "A\nC", UpdatedAt: remote},
		{ID: "at-edge", ResourceID: "r1", Content: "A\nB", UpdatedAt: remote - window},
		{ID: "old", ResourceID: "r1", Content: "A\nB", UpdatedAt: remote - 2*window},
		{ID: "other-resource", ResourceID: "r2", Content: "A\nB", UpdatedAt: remote},
		nil,
	}

	records := NewDetector(0).Detect("r1", items, "A\nC", remote)

	if len(records) != 2 {
		t.Fatalf("Detect() returned %d records, want 2", len(records))
	}
	if records[0].ItemID != "inside" || records[1].ItemID != "inside-after" {
		t.Errorf("Detect() items = %s, %s", records[0].ItemID, records[1].ItemID)
	}
	if records[0].LocalContent != "A\nB" || records[0].RemoteContent != "A\nC" {
		t.Errorf("Detect() contents = %q / %q", records[0].LocalContent, records[0].RemoteContent)
	}
	if records[0].RemoteUpdatedAt != remote {
		t.Errorf("RemoteUpdatedAt = %d, want %d", records[0].RemoteUpdatedAt, remote)
	}
}

// TestDetectCustomWindow tests a narrower window.
func TestDetectCustomWindow(t *testing.T) {
	d := NewDetector(time.Second)
	if d.Window() != time.Second {
		t.Fatalf("Window() = %v", d.Window())
	}

	items := []*models.Item{{ID: "i", ResourceID: "r1", Content: "x", UpdatedAt: 10_000}}
	if got := d.Detect("r1", items, "y", 12_000); len(got) != 0 {
		t.Errorf("Detect() outside a 1s window returned %d records", len(got))
	}
	if got := d.Detect("r1", items, "y", 10_500); len(got) != 1 {
		t.Errorf("Detect() inside a 1s window returned %d records", len(got))
	}
}

// =====================================================
// Resolver Tests
// =====================================================

// TestResolveRemoteWins tests that the remote content overwrites the local item.
func TestResolveRemoteWins(t *testing.T) {
	res, err := newTestResolver(nil).Resolve(sampleRecord(), StrategyRemoteWins)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Content != "A\nC" {
		t.Errorf("Content = %q, want %q", res.Content, "A\nC")
	}
	if !res.Write {
		t.Error("remote_wins should write")
	}
	if res.ResolvedAt != models.Millis(testNow) {
		t.Errorf("ResolvedAt = %d", res.ResolvedAt)
	}
	if res.ResolvedBy != "tester" {
		t.Errorf("ResolvedBy = %q", res.ResolvedBy)
	}
}

// TestResolveLocalWins tests that no write is performed.
func TestResolveLocalWins(t *testing.T) {
	res, err := newTestResolver(nil).Resolve(sampleRecord(), StrategyLocalWins)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Content != "A\nB" {
		t.Errorf("Content = %q, want %q", res.Content, "A\nB")
	}
	if res.Write {
		t.Error("local_wins should not write")
	}
}

// TestResolveMerge tests the sorted line-set union.
func TestResolveMerge(t *testing.T) {
	res, err := newTestResolver(nil).Resolve(sampleRecord(), StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := strings.Split(res.Content, "\n"); len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Errorf("Content = %q, want lines A, B, C", res.Content)
	}
	if !res.Write {
		t.Error("merge that changes local content should write")
	}
}

// TestResolveCustomMerger tests that the merge step is replaceable.
func TestResolveCustomMerger(t *testing.T) {
	m := MergeFunc(func(local, remote string) string { return remote + "|" + local })

	res, err := newTestResolver(m).Resolve(sampleRecord(), StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Content != "A\nC|A\nB" {
		t.Errorf("Content = %q", res.Content)
	}
}

// TestResolveUnknownStrategy tests the unresolved error.
func TestResolveUnknownStrategy(t *testing.T) {
	_, err := newTestResolver(nil).Resolve(sampleRecord(), Strategy("coin_flip"))
	if !errors.Is(err, errors.ErrConflictUnresolved) {
		t.Errorf("Resolve() error = %v, want CONFLICT_UNRESOLVED", err)
	}

	if _, err := newTestResolver(nil).Resolve(nil, StrategyMerge); err == nil {
		t.Error("Resolve(nil) should fail")
	}
}

// TestResolveAll tests batch resolution.
func TestResolveAll(t *testing.T) {
	r := newTestResolver(nil)
	records := []*Record{sampleRecord(), sampleRecord()}

	out, err := r.ResolveAll(records, StrategyLocalWins)
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("ResolveAll() returned %d resolutions", len(out))
	}

	if _, err := r.ResolveAll(records, "bogus"); err == nil {
		t.Error("ResolveAll() with unknown strategy should fail")
	}
}

// TestResolutionLog tests the audit entry.
func TestResolutionLog(t *testing.T) {
	res, err := newTestResolver(nil).Resolve(sampleRecord(), StrategyMerge)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	log := res.Log("u1")
	if log.UserID != "u1" || log.ResourceID != "r1" || log.ItemID != "item-1" {
		t.Errorf("Log() identity = %+v", log)
	}
	if log.Strategy != "merge" || log.ResolvedBy != "tester" {
		t.Errorf("Log() strategy/resolver = %q/%q", log.Strategy, log.ResolvedBy)
	}
	if log.LocalUpdatedAt != res.Record.LocalUpdatedAt || log.RemoteUpdatedAt != res.Record.RemoteUpdatedAt {
		t.Error("Log() timestamps do not match the record")
	}
}

// =====================================================
// Merger and Strategy Tests
// =====================================================

// TestLineSetMerger tests deduplication and ordering.
func TestLineSetMerger(t *testing.T) {
	tests := []struct {
		local, remote, want string
	}{
		{"A\nB", "A\nC", "A\nB\nC"},
		{"C\nB\nA", "", "A\nB\nC"},
		{"", "", ""},
		{"x\nx", "x", "x"},
	}

	for _, tt := range tests {
		if got := (LineSetMerger{}).Merge(tt.local, tt.remote); got != tt.want {
			t.Errorf("Merge(%q, %q) = %q, want %q", tt.local, tt.remote, got, tt.want)
		}
	}
}

// TestParseStrategy tests strategy name validation.
func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyRemoteWins {
		t.Errorf("ParseStrategy(\"\") = %q, %v", s, err)
	}
	if s, err := ParseStrategy("merge"); err != nil || s != StrategyMerge {
		t.Errorf("ParseStrategy(merge) = %q, %v", s, err)
	}
	if _, err := ParseStrategy("last_write_wins"); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("ParseStrategy(last_write_wins) error = %v", err)
	}
}
