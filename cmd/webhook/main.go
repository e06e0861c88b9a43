package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"guest-inbox/handler"
	"guest-inbox/internal/bootstrap"
	"guest-inbox/internal/logging"
	"guest-inbox/internal/usecase"
)

func main() {
	ctx := context.Background()

	base, err := bootstrap.NewBase(ctx, "guest-inbox-webhook")
	if err != nil {
		l := logging.New("error", "guest-inbox-webhook")
		l.Error().Err(err).Msg("failed to bootstrap")
		os.Exit(1)
	}
	log := base.Log
	prefix := base.Config.ParamPrefix

	verifyToken, err := bootstrap.VerifyToken(ctx, base.Params, prefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load webhook verify token")
	}
	remap, routing, err := bootstrap.LoadRouting(ctx, base.Params, prefix, base.Config.DefaultProperty)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load routing tables")
	}
	log.Info().Int("remap_entries", remap.Len()).Int("channel_routes", len(routing.Channels)).Msg("routing loaded")

	resolver, err := usecase.NewResolver(base.Store, base.Store, remap, routing, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create resolver")
	}
	ingest, err := usecase.NewIngestService(resolver, base.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ingest service")
	}
	h, err := handler.NewWebhookHandler(ingest, verifyToken, logging.Component(log, "webhook"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}
