package stream

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecordModify(t *testing.T) {
	data := []byte(`{
		"eventID": "e-1",
		"eventName": "MODIFY",
		"dynamodb": {
			"OldImage": {
				"userId": {"S": "u1"},
				"taskId": {"S": "t1"},
				"status": {"S": "Pending"},
				"deadline": {"N": "1700000300000"}
			},
			"NewImage": {
				"userId": {"S": "u1"},
				"taskId": {"S": "t1"},
				"status": {"S": "Completed"},
				"deadline": {"N": "1700000300000"},
				"tags": {"SS": ["home"]},
				"meta": {"M": {"flag": {"BOOL": true}}},
				"scores": {"L": [{"N": "1"}, {"NULL": true}]}
			}
		}
	}`)

	e, err := DecodeRecord(data)
	require.NoError(t, err)

	assert.Equal(t, "e-1", e.ID)
	assert.Equal(t, Modify, e.Kind)
	assert.Equal(t, tasks.StatusPending, e.OldTask().Status)
	assert.Equal(t, tasks.StatusCompleted, e.NewTask().Status)
	assert.Equal(t, int64(1700000300000), e.NewTask().Deadline)

	assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"home"}}, e.NewImage["tags"])
	assert.Equal(t, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"flag": &types.AttributeValueMemberBOOL{Value: true},
	}}, e.NewImage["meta"])
	assert.Equal(t, &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberN{Value: "1"},
		&types.AttributeValueMemberNULL{Value: true},
	}}, e.NewImage["scores"])
}

func TestDecodeRecordInsertHasNoOldImage(t *testing.T) {
	e, err := DecodeRecord([]byte(`{"eventName":"INSERT","dynamodb":{"NewImage":{"taskId":{"S":"t1"}}}}`))
	require.NoError(t, err)

	assert.Equal(t, Insert, e.Kind)
	assert.Nil(t, e.OldImage)
	assert.Equal(t, tasks.Task{}, e.OldTask())
	assert.Equal(t, "t1", e.NewTask().TaskID)
}

func TestDecodeRecordErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing event name", `{"dynamodb":{}}`},
		{"unknown attribute type", `{"eventName":"INSERT","dynamodb":{"NewImage":{"weird":{"X":"?"}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestEncodeDecodeRecord(t *testing.T) {
	newImage, err := ImageOf(tasks.Task{UserID: "u1", TaskID: "t1", Status: tasks.StatusPending, Deadline: 99})
	require.NoError(t, err)
	newImage["nothing"] = &types.AttributeValueMemberNULL{Value: true}
	newImage["list"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberN{Value: "1"},
	}}
	newImage["blobs"] = &types.AttributeValueMemberBS{Value: [][]byte{[]byte("a")}}

	data, err := EncodeRecord(Event{ID: "e-2", Kind: Insert, NewImage: newImage})
	require.NoError(t, err)

	e, err := DecodeRecord(data)
	require.NoError(t, err)

	assert.Equal(t, Insert, e.Kind)
	assert.Equal(t, "e-2", e.ID)
	assert.Nil(t, e.OldImage)
	assert.Equal(t, newImage, e.NewImage)
}
