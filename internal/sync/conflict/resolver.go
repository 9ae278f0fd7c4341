// Package conflict detects concurrent local and remote edits of a synced
// resource and resolves them with a configurable strategy.
package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/clock"
	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/models"
)

// Strategy defines how conflicts are resolved.
type Strategy string

const (
	StrategyRemoteWins Strategy = "remote_wins"
	StrategyLocalWins  Strategy = "local_wins"
	StrategyMerge      Strategy = "merge"
)

// DefaultWindow is the span within which a local and a remote edit are
// treated as concurrent.
const DefaultWindow = 5 * time.Minute

// DefaultResolvedBy identifies automatic resolutions in the audit log.
const DefaultResolvedBy = "pagesync"

// ParseStrategy validates a strategy name. Empty means remote_wins.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyRemoteWins, nil
	case StrategyRemoteWins, StrategyLocalWins, StrategyMerge:
		return Strategy(s), nil
	}
	return "", errors.New(errors.ErrInvalid, fmt.Sprintf("unknown conflict strategy %q", s))
}

// Record is a detected conflict between a local item and the remote resource.
// It only lives for one resolution pass.
type Record struct {
	ResourceID      string
	ItemID          models.UUID
	LocalContent    string
	RemoteContent   string
	LocalUpdatedAt  int64 // Unix ms
	RemoteUpdatedAt int64 // Unix ms
}

// Resolution is the outcome of resolving one Record.
type Resolution struct {
	Record   *Record
	Strategy Strategy
	// Content is the resolved item content.
	Content string
	// Write is false when the local item already holds Content.
	Write      bool
	ResolvedAt int64 // Unix ms
	ResolvedBy string
}

// Log returns the audit entry for r.
func (r *Resolution) Log(userID string) *models.ConflictLog {
	return &models.ConflictLog{
		UserID:          userID,
		ResourceID:      r.Record.ResourceID,
		ItemID:          r.Record.ItemID,
		LocalUpdatedAt:  r.Record.LocalUpdatedAt,
		RemoteUpdatedAt: r.Record.RemoteUpdatedAt,
		Strategy:        string(r.Strategy),
		ResolvedBy:      r.ResolvedBy,
		ResolvedAt:      r.ResolvedAt,
	}
}

// Merger combines two versions of a text into one.
type Merger interface {
	Merge(local, remote string) string
}

// MergeFunc adapts a function to Merger.
type MergeFunc func(local, remote string) string

// Merge calls f.
func (f MergeFunc) Merge(local, remote string) string {
	return f(local, remote)
}

// LineSetMerger merges two texts into the sorted set of their lines.
// It is lossy: line order and duplicates are not preserved, and merging is
// not associative.
type LineSetMerger struct{}

// Merge returns the sorted union of the lines of local and remote.
func (LineSetMerger) Merge(local, remote string) string {
	seen := make(map[string]struct{})
	var lines []string
	for _, text := range []string{local, remote} {
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			if _, ok := seen[line]; ok {
				continue
			}
			seen[line] = struct{}{}
			lines = append(lines, line)
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// =====================================================
// Detector
// =====================================================

// Detector flags local items edited close to a remote edit.
type Detector struct {
	window time.Duration
}

// NewDetector creates a Detector. A non-positive window uses DefaultWindow.
func NewDetector(window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{window: window}
}

// Window returns the conflict window.
func (d *Detector) Window() time.Duration {
	return d.window
}

// Detect returns a Record for every item whose local edit lies strictly
// within the window of remoteLastEdited and whose content differs from
// remoteContent.
func (d *Detector) Detect(resourceID string, items []*models.Item, remoteContent string, remoteLastEdited int64) []*Record {
	windowMs := d.window.Milliseconds()

	var records []*Record
	for _, item := range items {
		if item == nil || item.ResourceID != resourceID {
			continue
		}
		diff := item.UpdatedAt - remoteLastEdited
		if diff < 0 {
			diff = -diff
		}
		if diff >= windowMs || item.Content == remoteContent {
			continue
		}

		records = append(records, &Record{
			ResourceID:      resourceID,
			ItemID:          item.ID,
			LocalContent:    item.Content,
			RemoteContent:   remoteContent,
			LocalUpdatedAt:  item.UpdatedAt,
			RemoteUpdatedAt: remoteLastEdited,
		})

		logging.Warn("Concurrent edit conflict detected",
			map[string]interface{}{
				"resource_id":      resourceID,
				"item_id":          item.ID,
				"local_timestamp":  item.UpdatedAt,
				"remote_timestamp": remoteLastEdited,
			})
	}
	return records
}

// =====================================================
// Resolver
// =====================================================

// Resolver applies a Strategy to detected conflicts.
type Resolver struct {
	merger     Merger
	clock      clock.Clock
	resolvedBy string
}

// NewResolver creates a Resolver. A nil merger uses LineSetMerger, a nil
// clock the system clock and an empty resolvedBy DefaultResolvedBy.
func NewResolver(merger Merger, clk clock.Clock, resolvedBy string) *Resolver {
	if merger == nil {
		merger = LineSetMerger{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if resolvedBy == "" {
		resolvedBy = DefaultResolvedBy
	}
	return &Resolver{merger: merger, clock: clk, resolvedBy: resolvedBy}
}

// Resolve resolves record with strategy. An unknown strategy fails with
// ErrConflictUnresolved.
func (r *Resolver) Resolve(record *Record, strategy Strategy) (*Resolution, error) {
	if record == nil {
		return nil, errors.New(errors.ErrInvalid, "nil conflict record")
	}

	res := &Resolution{
		Record:     record,
		Strategy:   strategy,
		ResolvedAt: models.Millis(r.clock.Now()),
		ResolvedBy: r.resolvedBy,
	}

	switch strategy {
	case StrategyRemoteWins:
		res.Content = record.RemoteContent
		res.Write = true
	case StrategyLocalWins:
		res.Content = record.LocalContent
	case StrategyMerge:
		res.Content = r.merger.Merge(record.LocalContent, record.RemoteContent)
		res.Write = res.Content != record.LocalContent
	default:
		return nil, errors.New(errors.ErrConflictUnresolved,
			fmt.Sprintf("cannot resolve conflict on item %s with strategy %q", record.ItemID, strategy))
	}

	logging.Info("Conflict resolved",
		map[string]interface{}{
			"resource_id": record.ResourceID,
			"item_id":     record.ItemID,
			"strategy":    strategy,
			"write":       res.Write,
		})

	return res, nil
}

// ResolveAll resolves every record with strategy, stopping at the first error.
func (r *Resolver) ResolveAll(records []*Record, strategy Strategy) ([]*Resolution, error) {
	out := make([]*Resolution, 0, len(records))
	for _, record := range records {
		res, err := r.Resolve(record, strategy)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
