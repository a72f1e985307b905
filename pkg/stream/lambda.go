package stream

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
)

// LambdaHandler adapts handle to a DynamoDB stream trigger. Records without
// an event name are skipped; a handler error fails the invocation so Lambda
// retries the batch.
func LambdaHandler(handle BatchHandler, log zerolog.Logger) func(context.Context, events.DynamoDBEvent) error {
	return func(ctx context.Context, ev events.DynamoDBEvent) error {
		batch := make([]Event, 0, len(ev.Records))
		for _, r := range ev.Records {
			e, err := FromRecord(r)
			if err != nil {
				log.Warn().Err(err).Str("event", r.EventID).Msg("skipping stream record")
				continue
			}
			batch = append(batch, e)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := handle(ctx, batch); err != nil {
			return fmt.Errorf("handle %d stream records: %w", len(batch), err)
		}
		return nil
	}
}
