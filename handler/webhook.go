package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"guest-inbox/internal/usecase"
)

const providerWhatsApp = "whatsapp"

type Ingester interface {
	Ingest(ctx context.Context, ev usecase.InboundEvent) (usecase.IngestOutput, error)
}

// WebhookHandler serves the provider webhook behind API Gateway: GET for the
// subscription handshake, POST for message deliveries.
type WebhookHandler struct {
	ingester    Ingester
	verifyToken string
	log         zerolog.Logger
}

func NewWebhookHandler(ingester Ingester, verifyToken string, log zerolog.Logger) (*WebhookHandler, error) {
	if ingester == nil {
		return nil, errors.New("handler: ingester must not be nil")
	}
	if strings.TrimSpace(verifyToken) == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	return &WebhookHandler{ingester: ingester, verifyToken: verifyToken, log: log}, nil
}

type deliveryResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

func (h *WebhookHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	cid := correlationID(req.Headers)
	ctx, log := withCorrelation(ctx, h.log, cid)

	switch req.HTTPMethod {
	case http.MethodGet:
		return h.verify(req, cid, log), nil
	case http.MethodPost:
		return h.deliver(ctx, req, cid, log), nil
	default:
		return jsonResponse(http.StatusMethodNotAllowed, cid, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"}), nil
	}
}

func (h *WebhookHandler) verify(req events.APIGatewayProxyRequest, cid string, log zerolog.Logger) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	mode, token, challenge := q["hub.mode"], q["hub.verify_token"], q["hub.challenge"]
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		log.Warn().Str("mode", mode).Msg("webhook verification refused")
		return textResponse(http.StatusForbidden, cid, "forbidden")
	}
	log.Info().Msg("webhook verified")
	return textResponse(http.StatusOK, cid, challenge)
}

func (h *WebhookHandler) deliver(ctx context.Context, req events.APIGatewayProxyRequest, cid string, log zerolog.Logger) events.APIGatewayProxyResponse {
	var env whatsAppEnvelope
	if err := json.Unmarshal([]byte(req.Body), &env); err != nil {
		log.Warn().Err(err).Msg("webhook body is not JSON")
		return jsonResponse(http.StatusBadRequest, cid, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
	}

	evs := env.inboundEvents()
	var out deliveryResponse
	for _, ev := range evs {
		res, err := h.ingester.Ingest(ctx, ev)
		if err != nil {
			if usecase.CodeOf(err) == usecase.ErrorInvalidInput {
				out.Rejected++
				log.Warn().Err(err).Str("external_message_id", ev.ExternalMessageID).Msg("inbound event rejected")
				continue
			}
			// Remaining events are redelivered with the batch; dedupe absorbs
			// the ones already stored.
			log.Error().Err(err).Str("external_message_id", ev.ExternalMessageID).Msg("inbound event not stored")
			return errorFrom(http.StatusInternalServerError, cid, err)
		}
		if res.Duplicate {
			out.Duplicates++
		} else {
			out.Accepted++
		}
		log.Info().
			Str("conversation_id", res.ConversationID).
			Str("message_id", res.MessageID).
			Bool("conversation_created", res.Created).
			Bool("duplicate", res.Duplicate).
			Msg("inbound event stored")
	}

	if len(evs) > 0 && out.Rejected == len(evs) {
		return jsonResponse(http.StatusBadRequest, cid, out)
	}
	return jsonResponse(http.StatusOK, cid, out)
}

type whatsAppEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string        `json:"field"`
			Value whatsAppValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsAppValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []whatsAppMessage `json:"messages"`
}

type whatsAppMedia struct {
	Caption string `json:"caption"`
}

type whatsAppMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *whatsAppMedia `json:"image"`
	Video    *whatsAppMedia `json:"video"`
	Document *whatsAppMedia `json:"document"`
}

func (m whatsAppMessage) body() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Image != nil:
		return m.Image.Caption
	case m.Video != nil:
		return m.Video.Caption
	case m.Document != nil:
		return m.Document.Caption
	}
	return ""
}

// inboundEvents flattens the envelope in delivery order. Status callbacks
// carry no messages and yield nothing.
func (e whatsAppEnvelope) inboundEvents() []usecase.InboundEvent {
	var out []usecase.InboundEvent
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				out = append(out, usecase.InboundEvent{
					Provider:          providerWhatsApp,
					ChannelID:         change.Value.Metadata.PhoneNumberID,
					ExternalMessageID: m.ID,
					Sender:            m.From,
					SenderName:        names[m.From],
					Type:              m.Type,
					Body:              m.body(),
					Timestamp:         parseUnixSeconds(m.Timestamp),
				})
			}
		}
	}
	return out
}

func parseUnixSeconds(s string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
