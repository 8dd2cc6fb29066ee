package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/theory-cloud/storefront"
	"github.com/theory-cloud/storefront/internal/config"
	"github.com/theory-cloud/storefront/internal/logging"
)

// Subscribed to the order events topic; runs stock decrements and confirmation emails
func main() {
	cfg, err := config.Load(os.Getenv("STOREFRONT_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "storefront-events: load config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "storefront-events: logger:", err)
		os.Exit(1)
	}

	// The consumer must run side effects itself, never republish them
	cfg.Events.TopicARN = ""
	app, err := storefront.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("initialize storefront", "error", err)
		os.Exit(1)
	}

	lambda.Start(app.OrderEvents().Handle)
}
