package stream

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
)

// Normalize builds a best-effort Task from an image. It never fails: absent,
// NULL or wrongly typed attributes leave the matching field at its zero value.
// A nil image yields the zero Task.
func Normalize(image Image) tasks.Task {
	return tasks.Task{
		UserID:      stringAttr(image, "userId"),
		TaskID:      stringAttr(image, "taskId"),
		UserEmail:   stringAttr(image, "userEmail"),
		Description: stringAttr(image, "description"),
		Date:        stringAttr(image, "date"),
		Status:      tasks.Status(stringAttr(image, "status")),
		Deadline:    numberAttr(image, "deadline"),
		CreatedAt:   numberAttr(image, "createdAt"),
		Version:     numberAttr(image, "version"),
	}
}

func stringAttr(image Image, name string) string {
	v, ok := image[name].(*types.AttributeValueMemberS)
	if !ok || v == nil {
		return ""
	}
	return v.Value
}

// numberAttr only accepts integral numbers; DynamoDB encodes numbers as
// strings, so "12.5" or "1e3" are treated as a type mismatch.
func numberAttr(image Image, name string) int64 {
	v, ok := image[name].(*types.AttributeValueMemberN)
	if !ok || v == nil {
		return 0
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ImageOf renders t the way the task table stores it. It is the inverse of
// Normalize for well-formed items.
func ImageOf(t tasks.Task) (Image, error) {
	image, err := attributevalue.MarshalMap(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task image: %w", err)
	}
	return image, nil
}
