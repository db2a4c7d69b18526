package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/congregate/congregate/internal/identity"
	jobmetrics "github.com/congregate/congregate/internal/jobs"
)

// IdentityRepairer replays identity side-actions that failed during a request.
type IdentityRepairer interface {
	RevokeIdentity(ctx context.Context, email string) error
	SyncEmail(ctx context.Context, oldEmail, newEmail string) error
}

// IdentityRepairJob handles the identity retry tasks.
type IdentityRepairJob struct {
	Accounts IdentityRepairer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewIdentityRepairJob initialises the identity retry handlers.
func NewIdentityRepairJob(accounts IdentityRepairer, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdentityRepairJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityRepairJob{Accounts: accounts, Logger: logger, Metrics: metrics}
}

// Handlers returns the task handlers served by the worker.
func (j *IdentityRepairJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskIdentityDelete, Handler: j.HandleDelete},
		{Type: TaskIdentitySyncEmail, Handler: j.HandleSyncEmail},
	}
}

// HandleDelete removes the provider account of a deleted member.
func (j *IdentityRepairJob) HandleDelete(ctx context.Context, t *asynq.Task) error {
	var payload IdentityDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Email == "" {
		return fmt.Errorf("identity delete payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskIdentityDelete)
	err := j.Accounts.RevokeIdentity(ctx, payload.Email)
	if err != nil {
		j.Logger.Warn("identity delete retry failed", slog.String("email", payload.Email), slog.Any("error", err))
	} else {
		j.Logger.Info("identity account removed", slog.String("email", payload.Email))
	}
	return tracker.End(retryable(err))
}

// HandleSyncEmail replays an email change at the provider.
func (j *IdentityRepairJob) HandleSyncEmail(ctx context.Context, t *asynq.Task) error {
	var payload IdentitySyncEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.OldEmail == "" || payload.NewEmail == "" {
		return fmt.Errorf("identity email sync payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskIdentitySyncEmail)
	err := j.Accounts.SyncEmail(ctx, payload.OldEmail, payload.NewEmail)
	if err != nil {
		j.Logger.Warn("identity email sync retry failed",
			slog.String("old_email", payload.OldEmail),
			slog.String("new_email", payload.NewEmail),
			slog.Any("error", err))
	}
	return tracker.End(retryable(err))
}

// retryable stops retries that can never succeed.
func retryable(err error) error {
	if errors.Is(err, identity.ErrAdminDisabled) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
