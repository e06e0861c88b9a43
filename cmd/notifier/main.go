package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"guest-inbox/handler"
	"guest-inbox/internal/bootstrap"
	"guest-inbox/internal/config"
	"guest-inbox/internal/logging"
	"guest-inbox/internal/usecase"
)

func main() {
	ctx := context.Background()

	base, err := bootstrap.NewBase(ctx, "guest-inbox-notifier", config.NeedPublisher)
	if err != nil {
		l := logging.New("error", "guest-inbox-notifier")
		l.Error().Err(err).Msg("failed to bootstrap")
		os.Exit(1)
	}
	log := base.Log

	publisher, err := bootstrap.NewPublisher(ctx, base.Config, logging.Component(log, "publisher"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect publishers")
	}

	notifier, err := usecase.NewChangeNotifier(base.Store, publisher, base.Config.Service)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create change notifier")
	}
	h, err := handler.NewNotifierHandler(notifier, logging.Component(log, "notifier"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}
