// Command twin-lambda serves the same HTTP API from AWS Lambda behind an API
// Gateway REST proxy integration.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	lambdaproxy "github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/PabloGalante/twin-relay/internal/bootstrap"
	"github.com/PabloGalante/twin-relay/internal/config"
	"github.com/PabloGalante/twin-relay/internal/observability"
)

type proxyHandler func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

func main() {
	if err := run(context.Background()); err != nil {
		log := observability.Logger()
		log.Error().Err(err).Msg("twin lambda failed to start")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("TWIN_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := observability.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	// one App per execution environment, reused across invocations
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return err
	}

	log := observability.Logger()
	log.Info().Str("storage", app.Store.Capabilities().Name).Msg("twin lambda ready")

	lambda.StartWithOptions(newProxyHandler(app.Handler),
		lambda.WithEnableSIGTERM(func() { _ = app.Close() }),
	)
	return nil
}

func newProxyHandler(h http.Handler) proxyHandler {
	return lambdaproxy.New(h).ProxyWithContext
}
