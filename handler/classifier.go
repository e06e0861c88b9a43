package handler

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"guest-inbox/internal/domain"
	"guest-inbox/internal/repository"
	"guest-inbox/internal/usecase"
)

type Analyzer interface {
	Analyze(ctx context.Context, in usecase.AnalyzeInput) (usecase.AnalyzeOutput, error)
}

// ClassifierHandler consumes the table stream and classifies every newly
// stored inbound message.
type ClassifierHandler struct {
	analyzer Analyzer
	log      zerolog.Logger
}

func NewClassifierHandler(analyzer Analyzer, log zerolog.Logger) (*ClassifierHandler, error) {
	if analyzer == nil {
		return nil, errors.New("handler: analyzer must not be nil")
	}
	return &ClassifierHandler{analyzer: analyzer, log: log}, nil
}

// Handle processes records in order and stops at the first retryable
// failure. Lambda restarts the shard from the reported sequence number, so
// records behind it are redelivered in order.
func (h *ClassifierHandler) Handle(ctx context.Context, ev events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	for _, rec := range ev.Records {
		in, ok := inboundMessageKey(rec)
		if !ok {
			continue
		}
		rctx, log := withCorrelation(ctx, h.log, rec.EventID)

		out, err := h.analyzer.Analyze(rctx, in)
		if err != nil {
			switch usecase.CodeOf(err) {
			case usecase.ErrorInvalidInput, usecase.ErrorIntegrity:
				// Retrying cannot fix these; the message itself stays stored.
				log.Error().Err(err).Str("conversation_id", in.ConversationID).Str("message_id", in.MessageID).Msg("message skipped by classifier")
				continue
			}
			log.Error().Err(err).Str("conversation_id", in.ConversationID).Str("message_id", in.MessageID).Msg("classification failed, will retry")
			return batchFailure(rec), nil
		}
		log.Debug().Str("message_id", in.MessageID).Bool("applied", out.Applied).Msg("stream record handled")
	}
	return events.DynamoDBEventResponse{}, nil
}

func inboundMessageKey(rec events.DynamoDBEventRecord) (usecase.AnalyzeInput, bool) {
	if rec.EventName != string(events.DynamoDBOperationTypeInsert) {
		return usecase.AnalyzeInput{}, false
	}
	img := streamImage(rec.Change.NewImage)
	if img.str("entity") != repository.EntityMessage || img.str("direction") != string(domain.DirectionInbound) {
		return usecase.AnalyzeInput{}, false
	}
	return usecase.AnalyzeInput{
		ConversationID: img.str("conversationId"),
		MessageID:      img.str("messageId"),
		EventAt:        img.millis("createdAt"),
	}, true
}
