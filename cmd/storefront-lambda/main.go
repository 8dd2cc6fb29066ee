package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/theory-cloud/storefront"
	"github.com/theory-cloud/storefront/internal/config"
	"github.com/theory-cloud/storefront/internal/lambdaproxy"
	"github.com/theory-cloud/storefront/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("STOREFRONT_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "storefront: load config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "storefront: logger:", err)
		os.Exit(1)
	}

	// Initialized once per container so clients are reused across warm invocations
	app, err := storefront.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("initialize storefront", "error", err)
		os.Exit(1)
	}

	proxy := lambdaproxy.New(app.Handler(), logger)
	lambda.Start(func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := proxy.Handle(ctx, event)
		// Side effects normally go to the events topic; this only catches the in-process fallback
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Events.LambdaWait)
		defer cancel()
		if werr := app.WaitContext(waitCtx); werr != nil {
			logger.WarnContext(ctx, "side effects still running after response", slog.Any("error", werr))
		}
		return resp, err
	})
}
