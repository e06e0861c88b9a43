// Package bootstrap wires configuration, secrets and clients shared by the
// Lambda binaries and inboxctl.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"guest-inbox/internal/classify"
	"guest-inbox/internal/config"
	"guest-inbox/internal/identity"
	"guest-inbox/internal/integrations/openai"
	"guest-inbox/internal/integrations/paramstore"
	"guest-inbox/internal/logging"
	"guest-inbox/internal/notify"
	"guest-inbox/internal/repository"
	"guest-inbox/internal/usecase"
)

// Parameter names under the configured prefix.
const (
	ParamVerifyToken   = "webhook/verify-token"
	ParamModel         = "config/openai_model"
	ParamRemap         = "identity/remap"
	ParamChannelRoutes = "webhook/phone-properties"
)

// Base holds what every binary needs.
type Base struct {
	Config *config.Config
	Log    zerolog.Logger
	AWS    aws.Config
	Params *paramstore.Client
	Store  *repository.Client
}

// NewBase loads configuration and builds the AWS clients. The SDK retryer
// is capped at two attempts so one transient write failure is retried.
func NewBase(ctx context.Context, service string, reqs ...config.Requirement) (*Base, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if service != "" {
		cfg.Service = service
	}
	log := logging.New(cfg.LogLevel, cfg.Service)
	if err := cfg.Validate(append(reqs, config.NeedTable, config.NeedParamPrefix)...); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRetryMaxAttempts(2))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: SSM client: %w", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: repository: %w", err)
	}
	return &Base{Config: cfg, Log: log, AWS: awsCfg, Params: params, Store: store}, nil
}

// VerifyToken reads the webhook subscription secret.
func VerifyToken(ctx context.Context, g paramstore.Getter, prefix string) (string, error) {
	tok, err := paramstore.GetToken(ctx, g, paramstore.Join(prefix, ParamVerifyToken))
	if err != nil {
		return "", fmt.Errorf("bootstrap: webhook verify token: %w", err)
	}
	return tok, nil
}

// LoadRouting reads the sender remap table and the channel routing table.
// Both parameters are optional.
func LoadRouting(ctx context.Context, g paramstore.Getter, prefix, defaultProperty string) (identity.RemapTable, usecase.Routing, error) {
	rawRemap, err := paramstore.GetOptional(ctx, g, paramstore.Join(prefix, ParamRemap))
	if err != nil {
		return identity.RemapTable{}, usecase.Routing{}, fmt.Errorf("bootstrap: remap table: %w", err)
	}
	remap, err := identity.ParseRemapTable([]byte(rawRemap))
	if err != nil {
		return identity.RemapTable{}, usecase.Routing{}, err
	}

	rawRoutes, err := paramstore.GetOptional(ctx, g, paramstore.Join(prefix, ParamChannelRoutes))
	if err != nil {
		return identity.RemapTable{}, usecase.Routing{}, fmt.Errorf("bootstrap: channel routes: %w", err)
	}
	channels, err := ParseChannelRoutes([]byte(rawRoutes))
	if err != nil {
		return identity.RemapTable{}, usecase.Routing{}, err
	}
	return remap, usecase.Routing{Channels: channels, DefaultProperty: strings.TrimSpace(defaultProperty)}, nil
}

// ParseChannelRoutes decodes a YAML map of channel id to property id.
func ParseChannelRoutes(raw []byte) (map[string]string, error) {
	routes := map[string]string{}
	if strings.TrimSpace(string(raw)) == "" {
		return routes, nil
	}
	var decoded map[string]string
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("bootstrap: decode channel routes: %w", err)
	}
	for channel, property := range decoded {
		channel, property = strings.TrimSpace(channel), strings.TrimSpace(property)
		if channel == "" || property == "" {
			return nil, fmt.Errorf("bootstrap: channel route %q -> %q is incomplete", channel, property)
		}
		routes[channel] = property
	}
	return routes, nil
}

// ModelName returns the configured model, preferring the environment over
// SSM. An empty name selects keyword-only classification.
func ModelName(ctx context.Context, g paramstore.Getter, cfg *config.Config) (string, error) {
	if cfg.OpenAIModel != "" {
		return cfg.OpenAIModel, nil
	}
	name, err := paramstore.GetOptional(ctx, g, paramstore.Join(cfg.ParamPrefix, ParamModel))
	if err != nil {
		return "", fmt.Errorf("bootstrap: model name: %w", err)
	}
	return strings.TrimSpace(name), nil
}

// NewEngine builds the classification engine. With a model configured the
// API key is preloaded so a bad secret fails startup.
func NewEngine(ctx context.Context, g paramstore.Getter, cfg *config.Config, log zerolog.Logger) (*classify.Engine, error) {
	opts := []classify.Option{
		classify.WithTimeout(cfg.ModelTimeout),
		classify.WithHistoryTurns(cfg.HistoryTurns),
		classify.WithLogger(log),
	}
	model, err := ModelName(ctx, g, cfg)
	if err != nil {
		return nil, err
	}
	if model == "" {
		log.Warn().Msg("no model configured, classifying with keywords only")
		return classify.NewEngine(nil, "", opts...), nil
	}

	client, err := openai.NewClient(g, cfg.ParamPrefix, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: openai client: %w", err)
	}
	if err := client.Preload(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("model", model).Msg("model classification enabled")
	return classify.NewEngine(client, model, opts...), nil
}

// NewPublisher connects every configured change publisher.
func NewPublisher(ctx context.Context, cfg *config.Config, log zerolog.Logger) (notify.Fanout, error) {
	var out notify.Fanout
	if cfg.AMQPURL != "" {
		p, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if cfg.RedisURL != "" {
		p, err := notify.NewRedisPublisher(ctx, cfg.RedisURL, log)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
