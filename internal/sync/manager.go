// Package sync synchronizes external resources with locally stored study
// items: incremental fetches, conflict handling, change notifications and
// deferred retries.
package sync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kimhsiao/pagesync/backend/internal/clock"
	"github.com/kimhsiao/pagesync/backend/internal/db"
	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/gateway"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/sync/conflict"
	"github.com/kimhsiao/pagesync/backend/internal/uuid"
)

// Config holds the sync manager settings.
type Config struct {
	MaxRetries     int           // recoverable failures retried per resource
	RetryDelay     time.Duration // delay before a scheduled retry
	ConflictWindow time.Duration
	DebounceWindow time.Duration
	HealthWindow   int           // statuses considered by GetSyncHealth
	ClaimLease     time.Duration // age after which an in_progress claim is abandoned
	ItemCount      int
	Difficulty     string
	ResolvedBy     string
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     3,
		RetryDelay:     5 * time.Minute,
		ConflictWindow: conflict.DefaultWindow,
		DebounceWindow: 30 * time.Second,
		HealthWindow:   50,
		ClaimLease:     30 * time.Minute,
		ItemCount:      5,
		Difficulty:     "medium",
		ResolvedBy:     conflict.DefaultResolvedBy,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = d.RetryDelay
	}
	if out.ConflictWindow <= 0 {
		out.ConflictWindow = d.ConflictWindow
	}
	if out.DebounceWindow <= 0 {
		out.DebounceWindow = d.DebounceWindow
	}
	if out.HealthWindow <= 0 {
		out.HealthWindow = d.HealthWindow
	}
	if out.ClaimLease <= 0 {
		out.ClaimLease = d.ClaimLease
	}
	if out.ItemCount <= 0 {
		out.ItemCount = d.ItemCount
	}
	if out.Difficulty == "" {
		out.Difficulty = d.Difficulty
	}
	if out.ResolvedBy == "" {
		out.ResolvedBy = d.ResolvedBy
	}
	return &out
}

// ResourceClient reads and writes remote resources. *gateway.Gateway
// implements it.
type ResourceClient interface {
	FetchResource(ctx context.Context, resourceID string, priority int) (*gateway.Resource, error)
	PushResource(ctx context.Context, resourceID, title, content string, priority int) (*gateway.Resource, error)
}

// Generator turns resource content into study items. It must be a pure
// function of its arguments.
type Generator interface {
	Generate(ctx context.Context, content, title string, count int, difficulty string) ([]models.GeneratedItem, error)
}

// RetryScheduler persists deferred retries. *queue.RetryQueue implements it.
type RetryScheduler interface {
	Schedule(ctx context.Context, task *models.RetryTask) error
	Due(ctx context.Context, now time.Time) ([]*models.RetryTask, error)
	Consume(ctx context.Context, id models.UUID) (bool, error)
	PendingCount(ctx context.Context, userID string) (int, error)
}

// SyncRequest describes one resource sync.
type SyncRequest struct {
	UserID     string
	ResourceID string
	Direction  models.Direction
	// Full disables the incremental short-circuit.
	Full     bool
	Strategy conflict.Strategy
	Priority int
}

// Manager orchestrates resource syncs.
type Manager struct {
	repo      db.SyncRepository
	retries   RetryScheduler
	resources ResourceClient
	generator Generator
	detector  *conflict.Detector
	resolver  *conflict.Resolver
	clock     clock.Clock
	config    *Config

	mu      sync.RWMutex
	handler SyncEventHandler

	flights singleflight.Group
	wg      sync.WaitGroup
}

// NewManager creates a Manager. A nil clock uses the system clock and a nil
// config DefaultConfig.
func NewManager(repo db.SyncRepository, retries RetryScheduler, resources ResourceClient, generator Generator, clk clock.Clock, config *Config) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	cfg := config.withDefaults()
	return &Manager{
		repo:      repo,
		retries:   retries,
		resources: resources,
		generator: generator,
		detector:  conflict.NewDetector(cfg.ConflictWindow),
		resolver:  conflict.NewResolver(nil, clk, cfg.ResolvedBy),
		clock:     clk,
		config:    cfg,
	}
}

// SetEventHandler sets the handler notified of sync events. nil disables
// notifications.
func (m *Manager) SetEventHandler(handler SyncEventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// SetMerger replaces the content merger used by the merge strategy.
func (m *Manager) SetMerger(merger conflict.Merger) {
	m.resolver = conflict.NewResolver(merger, m.clock, m.config.ResolvedBy)
}

func (m *Manager) emitEvent(eventType string, req SyncRequest, data map[string]interface{}) {
	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	if h == nil {
		return
	}
	h.OnSyncEvent(SyncEvent{
		Type:       eventType,
		UserID:     req.UserID,
		ResourceID: req.ResourceID,
		Data:       data,
		Timestamp:  m.clock.Now(),
	})
}

// ItemID returns the stable identifier of the index-th item generated for
// a resource.
func ItemID(userID, resourceID string, index int) models.UUID {
	return models.UUID(uuid.Derive(userID, resourceID, strconv.Itoa(index)))
}

// =====================================================
// SyncResource
// =====================================================

type outcome struct {
	remoteEdited      int64
	itemsSynced       int
	conflictsResolved int
	skipped           bool
}

// SyncResource runs one sync of req.ResourceID for req.UserID.
//
// It fails with ErrSyncInProgress when another sync holds the resource.
// A recoverable failure with retries left is recorded, scheduled for retry
// and reported as a nil error with a failed status. Fatal failures and
// exhausted retries are returned after the status is persisted.
func (m *Manager) SyncResource(ctx context.Context, req SyncRequest) (*models.SyncStatus, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	status, err := m.repo.ClaimSyncStatus(ctx, req.UserID, req.ResourceID, req.Direction,
		models.Millis(now), models.Millis(now.Add(-m.config.ClaimLease)))
	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			logging.Info("Sync already in progress",
				map[string]interface{}{"user_id": req.UserID, "resource_id": req.ResourceID})
		}
		return nil, err
	}

	logging.Info("Sync started",
		map[string]interface{}{
			"user_id":     req.UserID,
			"resource_id": req.ResourceID,
			"direction":   req.Direction,
			"full":        req.Full,
		})
	m.emitEvent(SyncEventStarted, req, map[string]interface{}{"direction": string(req.Direction)})

	out, runErr := m.run(ctx, req, status)

	// A cancelled caller must not leave the status in_progress.
	return m.finish(context.WithoutCancel(ctx), req, status, out, runErr)
}

func normalizeRequest(req SyncRequest) (SyncRequest, error) {
	if req.UserID == "" || req.ResourceID == "" {
		return req, errors.New(errors.ErrInvalid, "sync needs a user and a resource")
	}
	dir, err := models.ParseDirection(string(req.Direction))
	if err != nil {
		return req, errors.Wrap(errors.ErrInvalid, "invalid sync request", err)
	}
	req.Direction = dir

	strategy, err := conflict.ParseStrategy(string(req.Strategy))
	if err != nil {
		return req, err
	}
	req.Strategy = strategy

	if req.Priority <= 0 {
		req.Priority = gateway.PriorityInteractive
	}
	return req, nil
}

func (m *Manager) run(ctx context.Context, req SyncRequest, status *models.SyncStatus) (*outcome, error) {
	if req.Direction == models.DirectionLocalToRemote {
		return m.pushLocal(ctx, req, status)
	}

	res, err := m.resources.FetchResource(ctx, req.ResourceID, req.Priority)
	if err != nil {
		return nil, err
	}
	remoteEdited := models.Millis(res.LastEditedTime)
	out := &outcome{remoteEdited: remoteEdited}

	if !req.Full && remoteEdited <= status.LastSyncTime {
		out.skipped = true
		return out, nil
	}

	existing, err := m.repo.ListItems(ctx, req.UserID, req.ResourceID)
	if err != nil {
		return nil, err
	}

	kept := make(map[models.UUID]bool)
	if req.Direction == models.DirectionBidirectional {
		n, err := m.resolveConflicts(ctx, req, existing, res, kept)
		if err != nil {
			return nil, err
		}
		out.conflictsResolved = n
	}

	generated, err := m.generator.Generate(ctx, res.Content, res.Title, m.config.ItemCount, m.config.Difficulty)
	if err != nil {
		return nil, errors.Fatal(fmt.Sprintf("generate items for %s", req.ResourceID), err)
	}

	fresh := make(map[models.UUID]bool, len(generated))
	for i, g := range generated {
		id := ItemID(req.UserID, req.ResourceID, i)
		fresh[id] = true
		if kept[id] {
			continue
		}
		item := &models.Item{
			ID:         id,
			UserID:     req.UserID,
			ResourceID: req.ResourceID,
			Question:   g.Question,
			Answer:     g.Answer,
			Tags:       g.Tags,
			Difficulty: g.Difficulty,
			Content:    res.Content,
			UpdatedAt:  remoteEdited,
			SyncedAt:   remoteEdited,
		}
		if err := m.repo.SaveItem(ctx, item); err != nil {
			return nil, err
		}
		out.itemsSynced++
	}

	for _, item := range existing {
		if fresh[item.ID] || kept[item.ID] {
			continue
		}
		if err := m.repo.DeleteItem(ctx, item.ID); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// resolveConflicts applies req.Strategy to every conflicting item and
// records each resolution. Only items edited locally since their last sync
// can conflict. Items whose resolved content must survive regeneration are
// added to kept.
func (m *Manager) resolveConflicts(ctx context.Context, req SyncRequest, items []*models.Item, res *gateway.Resource, kept map[models.UUID]bool) (int, error) {
	var changed []*models.Item
	for _, item := range items {
		if item.ChangedSinceSync() {
			changed = append(changed, item)
		}
	}
	records := m.detector.Detect(req.ResourceID, changed, res.Content, models.Millis(res.LastEditedTime))
	if len(records) == 0 {
		return 0, nil
	}

	m.emitEvent(SyncEventConflictDetected, req, map[string]interface{}{
		"conflicts": len(records),
		"strategy":  string(req.Strategy),
	})

	byID := make(map[models.UUID]*models.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	for _, rec := range records {
		resolution, err := m.resolver.Resolve(rec, req.Strategy)
		if err != nil {
			return 0, errors.Fatal(fmt.Sprintf("resolve conflict on %s", rec.ItemID), err)
		}

		if resolution.Write {
			item := *byID[rec.ItemID]
			item.Content = resolution.Content
			item.SyncedAt = rec.RemoteUpdatedAt
			if req.Strategy == conflict.StrategyMerge {
				item.UpdatedAt = resolution.ResolvedAt
			}
			if err := m.repo.SaveItem(ctx, &item); err != nil {
				return 0, err
			}
		}
		if req.Strategy != conflict.StrategyRemoteWins {
			kept[rec.ItemID] = true
		}

		if err := m.repo.CreateConflictLog(ctx, resolution.Log(req.UserID)); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// pushLocal writes locally changed items back to the remote resource.
func (m *Manager) pushLocal(ctx context.Context, req SyncRequest, status *models.SyncStatus) (*outcome, error) {
	items, err := m.repo.ListItems(ctx, req.UserID, req.ResourceID)
	if err != nil {
		return nil, err
	}

	var changed []*models.Item
	var latest *models.Item
	for _, item := range items {
		if !req.Full && !item.ChangedSinceSync() {
			continue
		}
		changed = append(changed, item)
		if latest == nil || item.UpdatedAt > latest.UpdatedAt {
			latest = item
		}
	}
	if len(changed) == 0 {
		return &outcome{remoteEdited: status.LastSyncTime, skipped: true}, nil
	}

	current, err := m.resources.FetchResource(ctx, req.ResourceID, req.Priority)
	if err != nil {
		return nil, err
	}
	pushed, err := m.resources.PushResource(ctx, req.ResourceID, current.Title, latest.Content, req.Priority)
	if err != nil {
		return nil, err
	}
	remoteEdited := models.Millis(pushed.LastEditedTime)

	for _, item := range changed {
		item.SyncedAt = remoteEdited
		if item.UpdatedAt > item.SyncedAt {
			item.SyncedAt = item.UpdatedAt
		}
		if err := m.repo.SaveItem(ctx, item); err != nil {
			return nil, err
		}
	}

	return &outcome{remoteEdited: remoteEdited, itemsSynced: len(changed)}, nil
}

// finish persists the result of a sync attempt and classifies failures.
func (m *Manager) finish(ctx context.Context, req SyncRequest, status *models.SyncStatus, out *outcome, runErr error) (*models.SyncStatus, error) {
	now := m.clock.Now()
	status.UpdatedAt = models.Millis(now)
	status.Direction = req.Direction

	if runErr == nil {
		return m.succeed(ctx, req, status, out)
	}

	status.Status = models.StatusFailed
	status.ErrorMessage = runErr.Error()
	status.ItemsSynced = 0
	status.ConflictsResolved = 0

	recoverable := errors.IsRecoverable(runErr)
	if recoverable && status.RetryCount < m.config.MaxRetries {
		status.RetryCount++
		task := &models.RetryTask{
			UserID:           req.UserID,
			ResourceID:       req.ResourceID,
			Direction:        req.Direction,
			ConflictStrategy: string(req.Strategy),
			ScheduledAt:      models.Millis(now.Add(m.config.RetryDelay)),
			Attempt:          status.RetryCount,
		}
		if err := m.repo.SaveSyncStatus(ctx, status); err != nil {
			m.release(ctx, req, runErr)
			return nil, errors.Wrap(errors.ErrDatabase, "save failed sync status", err)
		}
		if err := m.retries.Schedule(ctx, task); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "schedule sync retry", err)
		}

		logging.Warn("Sync failed, retry scheduled",
			map[string]interface{}{
				"user_id":     req.UserID,
				"resource_id": req.ResourceID,
				"retry_count": status.RetryCount,
				"retry_at":    task.ScheduledTime().Format(time.RFC3339),
				"error":       runErr.Error(),
			})
		m.emitEvent(SyncEventFailed, req, map[string]interface{}{
			"error_code": string(errors.CodeOf(runErr)),
			"retryable":  true,
			"retry_at":   task.ScheduledAt,
		})
		m.emitEvent(SyncEventRetryScheduled, req, map[string]interface{}{
			"attempt":      task.Attempt,
			"scheduled_at": task.ScheduledAt,
		})
		return status, nil
	}

	if err := m.repo.SaveSyncStatus(ctx, status); err != nil {
		logging.Error("Failed to save sync status", err,
			map[string]interface{}{"user_id": req.UserID, "resource_id": req.ResourceID})
		m.release(ctx, req, runErr)
	}

	finalErr := runErr
	if recoverable {
		finalErr = errors.Wrap(errors.ErrSyncRetryExhausted,
			fmt.Sprintf("sync %s/%s gave up after %d retries", req.UserID, req.ResourceID, status.RetryCount), runErr)
	}

	logging.ErrorWithCode("Sync failed", string(errors.CodeOf(finalErr)), runErr,
		map[string]interface{}{
			"user_id":     req.UserID,
			"resource_id": req.ResourceID,
			"retry_count": status.RetryCount,
		})
	m.emitEvent(SyncEventFailed, req, map[string]interface{}{
		"error_code": string(errors.CodeOf(finalErr)),
		"retryable":  false,
	})
	return nil, finalErr
}

// release drops the claim of a sync whose final status could not be
// saved, so the resource is not held until the claim lease expires.
func (m *Manager) release(ctx context.Context, req SyncRequest, cause error) {
	released, err := m.repo.ReleaseSyncStatus(ctx, req.UserID, req.ResourceID,
		cause.Error(), models.Millis(m.clock.Now()))
	if err != nil {
		logging.Error("Failed to release sync claim", err,
			map[string]interface{}{"user_id": req.UserID, "resource_id": req.ResourceID})
		return
	}
	if released {
		logging.Warn("Released sync claim",
			map[string]interface{}{"user_id": req.UserID, "resource_id": req.ResourceID})
	}
}

func (m *Manager) succeed(ctx context.Context, req SyncRequest, status *models.SyncStatus, out *outcome) (*models.SyncStatus, error) {
	status.Status = models.StatusSuccess
	if out.conflictsResolved > 0 {
		status.Status = models.StatusConflictResolved
	}
	status.ItemsSynced = out.itemsSynced
	status.ConflictsResolved = out.conflictsResolved
	status.ErrorMessage = ""
	if out.remoteEdited > status.LastSyncTime {
		status.LastSyncTime = out.remoteEdited
	}
	status.LastSuccessAt = status.UpdatedAt
	status.Version++

	if err := m.repo.SaveSyncStatus(ctx, status); err != nil {
		saveErr := errors.Wrap(errors.ErrDatabase, "save sync status", err)
		m.release(ctx, req, saveErr)
		return nil, saveErr
	}

	logging.Info("Sync completed",
		map[string]interface{}{
			"user_id":            req.UserID,
			"resource_id":        req.ResourceID,
			"status":             status.Status,
			"items_synced":       status.ItemsSynced,
			"conflicts_resolved": status.ConflictsResolved,
			"skipped":            out.skipped,
		})
	m.emitEvent(SyncEventCompleted, req, map[string]interface{}{
		"status":             string(status.Status),
		"items_synced":       status.ItemsSynced,
		"conflicts_resolved": status.ConflictsResolved,
	})
	return status, nil
}
