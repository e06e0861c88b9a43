package handler

import (
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// streamImage reads typed attributes from a stream record image without
// panicking on unexpected types.
type streamImage map[string]events.DynamoDBAttributeValue

func (img streamImage) str(name string) string {
	av, ok := img[name]
	if !ok || av.DataType() != events.DataTypeString {
		return ""
	}
	return av.String()
}

func (img streamImage) num(name string) int64 {
	av, ok := img[name]
	if !ok || av.DataType() != events.DataTypeNumber {
		return 0
	}
	n, err := strconv.ParseInt(av.Number(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (img streamImage) flag(name string) bool {
	av, ok := img[name]
	if !ok || av.DataType() != events.DataTypeBoolean {
		return false
	}
	return av.Boolean()
}

func (img streamImage) millis(name string) time.Time {
	n := img.num(name)
	if n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func batchFailure(rec events.DynamoDBEventRecord) events.DynamoDBEventResponse {
	return events.DynamoDBEventResponse{
		BatchItemFailures: []events.DynamoDBBatchItemFailure{{ItemIdentifier: rec.Change.SequenceNumber}},
	}
}
