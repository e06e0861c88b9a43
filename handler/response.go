package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"guest-inbox/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

// withCorrelation attaches a request-scoped logger to ctx.
func withCorrelation(ctx context.Context, log zerolog.Logger, cid string) (context.Context, zerolog.Logger) {
	l := log.With().Str("correlation_id", cid).Logger()
	return l.WithContext(ctx), l
}

func jsonResponse(status int, cid string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: cid,
		},
		Body: string(body),
	}
}

func textResponse(status int, cid, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "text/plain",
			correlationHeader: cid,
		},
		Body: body,
	}
}

func errorFrom(status int, cid string, err error) events.APIGatewayProxyResponse {
	out := errorResponse{Error: string(usecase.CodeOf(err))}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		out.Reason = ue.Reason
	}
	return jsonResponse(status, cid, out)
}
