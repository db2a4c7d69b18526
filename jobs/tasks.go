package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdentityDelete removes the identity-provider account of a deleted member.
	TaskIdentityDelete = "identity:delete"
	// TaskIdentitySyncEmail moves an identity-provider account to a member's new email.
	TaskIdentitySyncEmail = "identity:sync_email"
)

// IdentityDeletePayload names the login account to remove.
type IdentityDeletePayload struct {
	Email string `json:"email"`
}

// IdentitySyncEmailPayload describes an email change to replay at the provider.
type IdentitySyncEmailPayload struct {
	OldEmail string `json:"old_email"`
	NewEmail string `json:"new_email"`
}

// NewIdentityDeleteTask constructs an Asynq task.
func NewIdentityDeleteTask(email string) (*asynq.Task, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("jobs: identity delete requires an email")
	}
	data, err := json.Marshal(IdentityDeletePayload{Email: email})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdentityDelete, data), nil
}

// NewIdentitySyncEmailTask constructs an Asynq task.
func NewIdentitySyncEmailTask(oldEmail, newEmail string) (*asynq.Task, error) {
	oldEmail = strings.ToLower(strings.TrimSpace(oldEmail))
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if oldEmail == "" || newEmail == "" {
		return nil, errors.New("jobs: email sync requires both emails")
	}
	data, err := json.Marshal(IdentitySyncEmailPayload{OldEmail: oldEmail, NewEmail: newEmail})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdentitySyncEmail, data), nil
}
