package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"guest-inbox/internal/classify"
	"guest-inbox/internal/domain"
	"guest-inbox/internal/repository"
)

const defaultHistoryLimit = 20

type AnalysisStore interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	GetMessage(ctx context.Context, conversationID string, at time.Time, messageID string) (domain.Message, error)
	GetHistoryThrough(ctx context.Context, msg domain.Message, limit int) ([]domain.Message, error)
	GetProperty(ctx context.Context, propertyID string) (domain.PropertyContext, error)
	GetHostSettings(ctx context.Context, hostID string) (domain.HostSettings, error)
	SaveClassification(ctx context.Context, rec domain.ClassificationRecord) error
	ApplyClassification(ctx context.Context, rec domain.ClassificationRecord) error
	LatestClassification(ctx context.Context, conversationID string) (domain.ClassificationRecord, error)
}

type Classifier interface {
	Classify(ctx context.Context, history []domain.Message, property domain.PropertyContext, customInstructions string) classify.Result
}

// AnalyzeService classifies stored inbound messages and projects the result
// onto their conversation.
type AnalyzeService struct {
	store        AnalysisStore
	classifier   Classifier
	coherence    *classify.CoherenceChecker
	historyLimit int
	now          func() time.Time
}

func NewAnalyzeService(store AnalysisStore, classifier Classifier, coherence *classify.CoherenceChecker, historyLimit int) (*AnalyzeService, error) {
	if store == nil {
		return nil, errors.New("usecase: analysis store must not be nil")
	}
	if classifier == nil {
		return nil, errors.New("usecase: classifier must not be nil")
	}
	if coherence == nil {
		coherence = classify.NewCoherenceChecker()
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &AnalyzeService{
		store:        store,
		classifier:   classifier,
		coherence:    coherence,
		historyLimit: historyLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

type AnalyzeInput struct {
	ConversationID string
	MessageID      string
	EventAt        time.Time
}

type AnalyzeOutput struct {
	Record  domain.ClassificationRecord
	Applied bool
}

func (s *AnalyzeService) Analyze(ctx context.Context, in AnalyzeInput) (AnalyzeOutput, error) {
	if in.ConversationID == "" || in.MessageID == "" || in.EventAt.IsZero() {
		return AnalyzeOutput{}, newError(ErrorInvalidInput, "incomplete_message_key", nil)
	}
	log := zerolog.Ctx(ctx).With().
		Str("conversation_id", in.ConversationID).
		Str("message_id", in.MessageID).
		Logger()

	msg, err := s.store.GetMessage(ctx, in.ConversationID, in.EventAt, in.MessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AnalyzeOutput{}, newError(ErrorIntegrity, "message_missing", err)
		}
		return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_message_error", err)
	}
	if msg.Direction != domain.DirectionInbound {
		return AnalyzeOutput{}, newError(ErrorInvalidInput, "not_inbound", nil)
	}

	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AnalyzeOutput{}, newError(ErrorIntegrity, "conversation_missing", err)
		}
		return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_conversation_error", err)
	}

	history, err := s.store.GetHistoryThrough(ctx, msg, s.historyLimit)
	if err != nil {
		return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_history_error", err)
	}
	// The classifier reads the last inbound entry, which must be msg.
	history = historyEndingAt(history, msg)

	property, err := s.store.GetProperty(ctx, conv.PropertyID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Warn().Str("property_id", conv.PropertyID).Msg("property not in catalog, classifying without context")
		property = domain.PropertyContext{ID: conv.PropertyID}
	case err != nil:
		return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_property_error", err)
	}

	settings, err := s.store.GetHostSettings(ctx, conv.HostID)
	if err != nil {
		return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_settings_error", err)
	}

	result := s.classifier.Classify(ctx, history, property, settings.CustomInstructions)
	if reply, ok := PriorAutomatedReply(history, msg); ok {
		result = s.coherence.Check(result, reply.Content, msg.Content)
	}

	rec := s.record(conv.ID, msg, result)
	if err := s.store.SaveClassification(ctx, rec); err != nil {
		return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_classification_write_error", err)
	}

	applied := true
	if err := s.store.ApplyClassification(ctx, rec); err != nil {
		if !errors.Is(err, repository.ErrStaleClassification) {
			return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_projection_error", err)
		}
		applied = false
	}

	log.Info().
		Str("tag", rec.Tag).
		Float64("confidence", rec.Confidence).
		Bool("needs_attention", rec.NeedsAttention).
		Int("priority", rec.PriorityLevel).
		Bool("incoherent", rec.HasIncoherence).
		Str("source", rec.Source).
		Bool("applied", applied).
		Msg("message classified")
	return AnalyzeOutput{Record: rec, Applied: applied}, nil
}

// Resync re-applies the newest stored classification of a conversation.
func (s *AnalyzeService) Resync(ctx context.Context, conversationID string) (AnalyzeOutput, error) {
	rec, err := s.store.LatestClassification(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AnalyzeOutput{}, newError(ErrorInvalidInput, "no_classification", err)
		}
		return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_classification_read_error", err)
	}
	rec.PriorityLevel = classify.Priority(classify.Tag(rec.Tag))
	err = s.store.ApplyClassification(ctx, rec)
	if err != nil && !errors.Is(err, repository.ErrStaleClassification) {
		return AnalyzeOutput{}, newError(ErrorUpstream, "dynamodb_projection_error", err)
	}
	return AnalyzeOutput{Record: rec, Applied: err == nil}, nil
}

func (s *AnalyzeService) record(conversationID string, msg domain.Message, res classify.Result) domain.ClassificationRecord {
	return domain.ClassificationRecord{
		ID:              ClassificationID(conversationID, msg.ID),
		ConversationID:  conversationID,
		SourceMessageID: msg.ID,
		Tag:             string(res.Tag),
		Confidence:      res.Confidence,
		NeedsAttention:  res.NeedsAttention,
		Explanation:     res.Explanation,
		SuggestedAction: res.SuggestedAction,
		PriorityLevel:   res.Priority(),
		HasIncoherence:  res.HasIncoherence,
		Source:          string(res.Source),
		SourceEventAt:   msg.CreatedAt,
		CreatedAt:       s.now(),
	}
}

var classificationNamespace = uuid.MustParse("6f1b2c1e-2d4a-4c1b-9a55-3f0d2b7c9e10")

// ClassificationID is stable per classified message, so a retried analysis
// overwrites nothing and appends nothing.
func ClassificationID(conversationID, messageID string) string {
	return uuid.NewSHA1(classificationNamespace, []byte(conversationID+"/"+messageID)).String()
}

// historyEndingAt drops entries after msg and appends msg when the read
// missed it.
func historyEndingAt(history []domain.Message, msg domain.Message) []domain.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID == msg.ID {
			return history[:i+1]
		}
	}
	return append(history, msg)
}

// PriorAutomatedReply returns the most recent automated outbound message sent
// before msg.
func PriorAutomatedReply(history []domain.Message, msg domain.Message) (domain.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.ID == msg.ID || m.CreatedAt.After(msg.CreatedAt) {
			continue
		}
		if m.IsAutomatedReply() {
			return m, true
		}
	}
	return domain.Message{}, false
}
