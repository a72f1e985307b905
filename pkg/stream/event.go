// Package stream turns change-data-capture records emitted by the task table
// into typed events.
//
// Images are kept in their DynamoDB attribute form
// (map[string]types.AttributeValue) until Normalize converts them into
// tasks.Task values. Records arrive either from a Lambda stream trigger
// (LambdaHandler) or as DynamoDB Streams JSON relayed onto a Kafka topic
// (KafkaSource). Both hand one ordered batch at a time to a BatchHandler.
package stream

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
)

// EventKind is the kind of change a record describes.
type EventKind string

const (
	Insert EventKind = "INSERT"
	Modify EventKind = "MODIFY"
	Remove EventKind = "REMOVE"
)

// Image is a schemaless snapshot of one item. Attributes may be missing,
// NULL or carry an unexpected type.
type Image = map[string]types.AttributeValue

// Event is one change to one item of the task table.
type Event struct {
	ID       string
	Kind     EventKind
	OldImage Image
	NewImage Image
}

// OldTask normalizes the before-image.
func (e Event) OldTask() tasks.Task {
	return Normalize(e.OldImage)
}

// NewTask normalizes the after-image.
func (e Event) NewTask() tasks.Task {
	return Normalize(e.NewImage)
}

// BatchHandler processes the events of one stream segment in order. A
// non-nil error makes the whole batch eligible for redelivery.
type BatchHandler func(ctx context.Context, events []Event) error
