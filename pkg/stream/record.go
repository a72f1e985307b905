package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrMalformedRecord is returned when a record cannot be parsed at all.
var ErrMalformedRecord = errors.New("malformed stream record")

// DecodeRecord parses one DynamoDB Streams JSON record:
//
//	{"eventID":"1","eventName":"INSERT","dynamodb":{"NewImage":{"taskId":{"S":"t1"}}}}
func DecodeRecord(data []byte) (Event, error) {
	var r events.DynamoDBEventRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return FromRecord(r)
}

// FromRecord converts a record delivered by the Lambda runtime or decoded
// from JSON. Only a missing event name is an error.
func FromRecord(r events.DynamoDBEventRecord) (Event, error) {
	if r.EventName == "" {
		return Event{}, fmt.Errorf("%w: missing eventName", ErrMalformedRecord)
	}
	return Event{
		ID:       r.EventID,
		Kind:     EventKind(r.EventName),
		OldImage: fromStreamImage(r.Change.OldImage),
		NewImage: fromStreamImage(r.Change.NewImage),
	}, nil
}

// EncodeRecord renders e in the DynamoDB Streams JSON layout.
func EncodeRecord(e Event) ([]byte, error) {
	r := events.DynamoDBEventRecord{
		EventID:   e.ID,
		EventName: string(e.Kind),
	}

	var err error
	if r.Change.OldImage, err = toStreamImage(e.OldImage); err != nil {
		return nil, err
	}
	if r.Change.NewImage, err = toStreamImage(e.NewImage); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

func fromStreamImage(in map[string]events.DynamoDBAttributeValue) Image {
	if in == nil {
		return nil
	}
	image := make(Image, len(in))
	for name, av := range in {
		image[name] = fromStreamAttribute(av)
	}
	return image
}

func fromStreamAttribute(av events.DynamoDBAttributeValue) types.AttributeValue {
	switch av.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: av.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: av.Number()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: av.Boolean()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: av.Binary()}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: av.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: av.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: av.BinarySet()}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: fromStreamImage(av.Map())}
	case events.DataTypeList:
		list := av.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, item := range list {
			out = append(out, fromStreamAttribute(item))
		}
		return &types.AttributeValueMemberL{Value: out}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

func toStreamImage(image Image) (map[string]events.DynamoDBAttributeValue, error) {
	if image == nil {
		return nil, nil
	}
	out := make(map[string]events.DynamoDBAttributeValue, len(image))
	for name, av := range image {
		v, err := toStreamAttribute(av)
		if err != nil {
			return nil, fmt.Errorf("encode attribute %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func toStreamAttribute(av types.AttributeValue) (events.DynamoDBAttributeValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return events.NewStringAttribute(v.Value), nil
	case *types.AttributeValueMemberN:
		return events.NewNumberAttribute(v.Value), nil
	case *types.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(v.Value), nil
	case *types.AttributeValueMemberNULL:
		return events.NewNullAttribute(), nil
	case *types.AttributeValueMemberB:
		return events.NewBinaryAttribute(v.Value), nil
	case *types.AttributeValueMemberSS:
		return events.NewStringSetAttribute(v.Value), nil
	case *types.AttributeValueMemberNS:
		return events.NewNumberSetAttribute(v.Value), nil
	case *types.AttributeValueMemberBS:
		return events.NewBinarySetAttribute(v.Value), nil
	case *types.AttributeValueMemberM:
		m, err := toStreamImage(v.Value)
		if err != nil {
			return events.DynamoDBAttributeValue{}, err
		}
		return events.NewMapAttribute(m), nil
	case *types.AttributeValueMemberL:
		l := make([]events.DynamoDBAttributeValue, 0, len(v.Value))
		for _, item := range v.Value {
			e, err := toStreamAttribute(item)
			if err != nil {
				return events.DynamoDBAttributeValue{}, err
			}
			l = append(l, e)
		}
		return events.NewListAttribute(l), nil
	default:
		return events.DynamoDBAttributeValue{}, fmt.Errorf("unsupported attribute value %T", av)
	}
}
