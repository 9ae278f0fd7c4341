package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/sync"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

func healthColor(status sync.HealthStatus) *color.Color {
	switch status {
	case sync.HealthHealthy:
		return okColor
	case sync.HealthDegraded:
		return warnColor
	default:
		return failColor
	}
}

func statusColor(status models.Status) *color.Color {
	switch {
	case status.Succeeded():
		return okColor
	case status == models.StatusFailed:
		return failColor
	default:
		return warnColor
	}
}

func printHealth(w io.Writer, userID string, h *sync.SyncHealth) {
	fmt.Fprintf(w, "User:            %s\n", userID)
	fmt.Fprint(w, "Status:          ")
	healthColor(h.Status).Fprintln(w, h.Status)
	fmt.Fprintf(w, "Success rate:    %.1f%% (%d syncs)\n", h.SuccessRate*100, h.Total)
	fmt.Fprintf(w, "Pending retries: %d\n", h.PendingRetries)
}

func printStatus(w io.Writer, s *models.SyncStatus) {
	fmt.Fprintf(w, "Resource:   %s\n", s.ResourceID)
	fmt.Fprint(w, "Status:     ")
	statusColor(s.Status).Fprintln(w, s.Status)
	fmt.Fprintf(w, "Direction:  %s\n", s.Direction)
	fmt.Fprintf(w, "Items:      %d\n", s.ItemsSynced)
	if s.ConflictsResolved > 0 {
		fmt.Fprintf(w, "Conflicts:  %d resolved\n", s.ConflictsResolved)
	}
	if s.LastSyncTime > 0 {
		fmt.Fprintf(w, "Remote at:  %s\n", time.UnixMilli(s.LastSyncTime).UTC().Format(time.RFC3339))
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:      %s (retry %d)\n", s.ErrorMessage, s.RetryCount)
	}
}
