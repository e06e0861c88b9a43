package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"guest-inbox/handler"
	"guest-inbox/internal/bootstrap"
	"guest-inbox/internal/classify"
	"guest-inbox/internal/logging"
	"guest-inbox/internal/usecase"
)

func main() {
	ctx := context.Background()

	base, err := bootstrap.NewBase(ctx, "guest-inbox-classifier")
	if err != nil {
		l := logging.New("error", "guest-inbox-classifier")
		l.Error().Err(err).Msg("failed to bootstrap")
		os.Exit(1)
	}
	log := base.Log

	engine, err := bootstrap.NewEngine(ctx, base.Params, base.Config, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create classification engine")
	}
	analyze, err := usecase.NewAnalyzeService(base.Store, engine, classify.NewCoherenceChecker(), base.Config.HistoryLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create analyze service")
	}
	h, err := handler.NewClassifierHandler(analyze, logging.Component(log, "classifier"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}
