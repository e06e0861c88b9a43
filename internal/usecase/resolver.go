package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"guest-inbox/internal/domain"
	"guest-inbox/internal/identity"
	"guest-inbox/internal/repository"
)

type ConversationResolver interface {
	ResolveConversation(ctx context.Context, k repository.ConversationKey) (domain.Conversation, bool, error)
}

type PropertyReader interface {
	GetProperty(ctx context.Context, propertyID string) (domain.PropertyContext, error)
}

// Routing selects the property of a new conversation when the sender has no
// remap entry with a property.
type Routing struct {
	// Channels maps a provider channel id (the business phone number id) to
	// a property id.
	Channels        map[string]string
	DefaultProperty string
}

func (r Routing) property(hint, channelID string) string {
	if hint = strings.TrimSpace(hint); hint != "" {
		return hint
	}
	if p := r.Channels[channelID]; p != "" {
		return p
	}
	return r.DefaultProperty
}

// Resolver maps a raw sender to its active conversation, creating it on first
// contact.
type Resolver struct {
	store      ConversationResolver
	properties PropertyReader
	remap      identity.RemapTable
	routing    Routing
	log        zerolog.Logger
}

func NewResolver(store ConversationResolver, properties PropertyReader, remap identity.RemapTable, routing Routing, log zerolog.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if properties == nil {
		return nil, errors.New("usecase: property reader must not be nil")
	}
	return &Resolver{
		store:      store,
		properties: properties,
		remap:      remap,
		routing:    routing,
		log:        log.With().Str("component", "resolver").Logger(),
	}, nil
}

type ResolveInput struct {
	RawIdentifier string
	PropertyHint  string
	ChannelID     string
	GuestName     string
}

type ResolveOutput struct {
	Conversation domain.Conversation
	Identifier   string
	Created      bool
}

func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (ResolveOutput, error) {
	normalized := identity.Normalize(in.RawIdentifier)
	if !identity.Valid(normalized) {
		return ResolveOutput{}, newError(ErrorInvalidInput, "invalid_sender", nil)
	}
	identifier, remapHint := r.remap.Apply(normalized)
	hint := in.PropertyHint
	if remapHint != "" {
		hint = remapHint
	}
	propertyID := r.routing.property(hint, in.ChannelID)
	if propertyID == "" {
		return ResolveOutput{}, newError(ErrorInvalidInput, "unroutable_sender", nil)
	}

	hostID := ""
	property, err := r.properties.GetProperty(ctx, propertyID)
	switch {
	case err == nil:
		hostID = property.HostID
	case errors.Is(err, repository.ErrNotFound):
		r.log.Warn().Str("property_id", propertyID).Msg("property not in catalog, conversation has no host")
	default:
		return ResolveOutput{}, newError(ErrorUpstream, "dynamodb_property_error", err)
	}

	conv, created, err := r.store.ResolveConversation(ctx, repository.ConversationKey{
		Identifier: identifier,
		PropertyID: propertyID,
		HostID:     hostID,
		GuestName:  in.GuestName,
	})
	if err != nil {
		if errors.Is(err, repository.ErrContention) {
			return ResolveOutput{}, newError(ErrorIntegrity, "conversation_contention", err)
		}
		return ResolveOutput{}, newError(ErrorUpstream, "dynamodb_resolve_error", err)
	}
	if created {
		zerolog.Ctx(ctx).Info().
			Str("conversation_id", conv.ID).
			Str("property_id", propertyID).
			Msg("conversation created")
	}
	return ResolveOutput{Conversation: conv, Identifier: identifier, Created: created}, nil
}
