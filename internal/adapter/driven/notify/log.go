// Package notify holds release notifiers.
package notify

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

var _ driven.ReleaseNotifier = (*LogNotifier)(nil)

// LogNotifier announces releases as structured log records.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier writing to logger, or slog.Default when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs one new release of a tracked subject.
func (n *LogNotifier) Notify(ctx context.Context, t model.Tracking, release model.ReleaseView) error {
	n.logger.InfoContext(ctx, "new release",
		"room", t.RoomID,
		"tracking_id", t.ID,
		"repo", release.FullName(),
		"version", release.DisplayVersion(),
		"kind", string(release.Kind),
		"published_at", release.PublishedAt,
		"url", release.ReleaseURL,
		"hash", release.StableHash(),
		"notes", release.DefaultTrimmedNotes(),
	)
	return nil
}
