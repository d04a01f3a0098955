package audit

import (
	"context"
	"maps"

	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
)

// Recorder persists auth events as audit log entries. Emit writes
// synchronously; wrap it in an Async to keep writes off request paths.
type Recorder struct {
	repo   Repository
	logger *logging.Logger
}

// NewRecorder creates a Recorder backed by repo.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Emit implements auth.EventSink.
func (r *Recorder) Emit(ctx context.Context, e auth.Event) {
	if err := r.repo.Create(ctx, entryFromEvent(e)); err != nil {
		r.logger.Error("audit log write failed",
			"action", string(e.Type),
			"error", err,
		)
	}
}

// List returns a page of audit entries.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}

func entryFromEvent(e auth.Event) *AuditLog {
	var details map[string]any
	if len(e.Details) > 0 {
		details = maps.Clone(e.Details)
	}
	return &AuditLog{
		Action:    string(e.Type),
		UserID:    e.UserID,
		SessionID: e.SessionID,
		SourceIP:  e.IP,
		Details:   details,
		CreatedAt: e.At,
	}
}
