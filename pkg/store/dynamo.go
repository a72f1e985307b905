// Package store keeps tasks in the DynamoDB task table, keyed by
// (userId, taskId). It is the source of truth every pipeline stage
// re-reads before acting.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
)

// DefaultTable is the name of the task table.
const DefaultTable = "TodoTasks"

// ErrConditionFailed is returned by UpdateIfStatus when the stored task was
// changed or removed since it was read.
var ErrConditionFailed = errors.New("task changed concurrently")

// DynamoAPI is the part of *dynamodb.Client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps tasks in a DynamoDB table keyed by (userId, taskId).
// Update and UpdateIfStatus bump Task.Version; UpdateIfStatus only writes
// when the stored version is still the one that was read.
type DynamoStore struct {
	db        DynamoAPI
	tableName string
}

// NewDynamoStore uses table through db.
func NewDynamoStore(db DynamoAPI, table string) *DynamoStore {
	if table == "" {
		table = DefaultTable
	}
	return &DynamoStore{db: db, tableName: table}
}

// NewDynamoClient builds a client for region, pointed at endpoint when it is
// set (DynamoDB Local, LocalStack).
func NewDynamoClient(cfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func key(userID, taskID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
		"taskId": &types.AttributeValueMemberS{Value: taskID},
	}
}

// Get returns the task, or nil when it does not exist.
func (s *DynamoStore) Get(ctx context.Context, userID, taskID string) (*tasks.Task, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(userID, taskID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get task %s/%s: %w", userID, taskID, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var t tasks.Task
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, fmt.Errorf("decode task %s/%s: %w", userID, taskID, err)
	}
	return &t, nil
}

// Put stores t as given, replacing any existing item with the same key.
func (s *DynamoStore) Put(ctx context.Context, t tasks.Task) error {
	return s.put(ctx, t, nil)
}

// Update overwrites the whole stored record with t and the next version.
func (s *DynamoStore) Update(ctx context.Context, t tasks.Task) error {
	t.Version++
	return s.put(ctx, t, nil)
}

// UpdateIfStatus overwrites the whole record with t and the next version,
// but only if the stored item exists, its status is still expected and its
// version is still t.Version. Otherwise it returns ErrConditionFailed and
// leaves the item untouched. Items written before versioning carry no
// version attribute and match version 0.
func (s *DynamoStore) UpdateIfStatus(ctx context.Context, t tasks.Task, expected tasks.Status) error {
	read := t.Version
	t.Version++
	return s.put(ctx, t, &condition{status: expected, version: read})
}

type condition struct {
	status  tasks.Status
	version int64
}

func (s *DynamoStore) put(ctx context.Context, t tasks.Task, cond *condition) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("encode task %s/%s: %w", t.UserID, t.TaskID, err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if cond != nil {
		versionMatch := "#v = :version"
		if cond.version == 0 {
			versionMatch = "(attribute_not_exists(#v) OR #v = :version)"
		}
		in.ConditionExpression = aws.String("attribute_exists(taskId) AND #st = :expected AND " + versionMatch)
		in.ExpressionAttributeNames = map[string]string{"#st": "status", "#v": "version"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: string(cond.status)},
			":version":  &types.AttributeValueMemberN{Value: strconv.FormatInt(cond.version, 10)},
		}
	}

	if _, err := s.db.PutItem(ctx, in); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrConditionFailed
		}
		return fmt.Errorf("put task %s/%s: %w", t.UserID, t.TaskID, err)
	}
	return nil
}

// Delete removes the task. Deleting a missing task is not an error.
func (s *DynamoStore) Delete(ctx context.Context, userID, taskID string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(userID, taskID),
	})
	if err != nil {
		return fmt.Errorf("delete task %s/%s: %w", userID, taskID, err)
	}
	return nil
}
