// Package tasks defines the records that flow through the expiry pipeline.
// A Task is a snapshot of one row of the task table; the pipeline never edits
// a Task in place, it reads the current state, builds a new value and writes
// the whole record back.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusExpired   Status = "Expired"
	StatusCompleted Status = "Completed"
)

// DefaultTTL is the time a freshly created task stays Pending before it expires.
const DefaultTTL = 5 * time.Minute

// Task is one row of the task table, keyed by (UserID, TaskID).
//
// Deadline and CreatedAt are epoch milliseconds. The pipeline treats Deadline
// as opaque input: it is fixed when the task is created and never recomputed.
type Task struct {
	// UserID is the partition key.
	UserID string `json:"userId" dynamodbav:"userId"`

	// TaskID is the sort key.
	TaskID string `json:"taskId" dynamodbav:"taskId"`

	// UserEmail is captured at creation and used as the notification address.
	UserEmail string `json:"userEmail" dynamodbav:"userEmail"`

	Description string `json:"description" dynamodbav:"description"`
	Date        string `json:"date" dynamodbav:"date"`
	Status      Status `json:"status" dynamodbav:"status"`
	Deadline    int64  `json:"deadline" dynamodbav:"deadline"`
	CreatedAt   int64  `json:"createdAt" dynamodbav:"createdAt"`

	// Version counts writes made through the store. Conditional updates
	// compare it so that an edit which keeps the status still wins.
	Version int64 `json:"version" dynamodbav:"version"`
}

// New builds a Pending task owned by userID with a fresh task id, created at
// now and due to expire DefaultTTL later.
func New(userID, userEmail, description, date string, now time.Time) Task {
	return Task{
		UserID:      userID,
		TaskID:      uuid.New().String(),
		UserEmail:   userEmail,
		Description: description,
		Date:        date,
		Status:      StatusPending,
		CreatedAt:   now.UnixMilli(),
		Deadline:    now.Add(DefaultTTL).UnixMilli(),
	}
}

// IsPending reports whether the task still waits for completion or expiry.
func (t Task) IsPending() bool {
	return t.Status == StatusPending
}

// DeadlineTime returns the deadline as a time.Time.
func (t Task) DeadlineTime() time.Time {
	return time.UnixMilli(t.Deadline)
}

// Expired returns a copy of t with its status moved to Expired.
func (t Task) Expired() Task {
	t.Status = StatusExpired
	return t
}

// ExpiryMessage is the body carried on the delayed queue. It deliberately
// holds no status or deadline: the consumer always re-reads the task.
type ExpiryMessage struct {
	UserID    string `json:"userId"`
	TaskID    string `json:"taskId"`
	UserEmail string `json:"userEmail"`
}

// ExpiryMessageFor builds the queue message for t.
func ExpiryMessageFor(t Task) ExpiryMessage {
	return ExpiryMessage{UserID: t.UserID, TaskID: t.TaskID, UserEmail: t.UserEmail}
}
