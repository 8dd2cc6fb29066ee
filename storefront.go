// Package storefront assembles the boutique storefront backend.
//
// Import path:
//
//	import "github.com/theory-cloud/storefront"
//
// New builds every backend client from configuration and injects it into the services; nothing
// is held in package-level state. The HTTP surface lives in internal/api.
package storefront

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/theory-cloud/storefront/internal/api"
	"github.com/theory-cloud/storefront/internal/config"
	"github.com/theory-cloud/storefront/pkg/account"
	"github.com/theory-cloud/storefront/pkg/besteffort"
	"github.com/theory-cloud/storefront/pkg/botcheck"
	"github.com/theory-cloud/storefront/pkg/challenge"
	"github.com/theory-cloud/storefront/pkg/checkout"
	"github.com/theory-cloud/storefront/pkg/i18n"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/images"
	"github.com/theory-cloud/storefront/pkg/notify"
	"github.com/theory-cloud/storefront/pkg/orderevents"
	"github.com/theory-cloud/storefront/pkg/phoneauth"
	"github.com/theory-cloud/storefront/pkg/protection"
	"github.com/theory-cloud/storefront/pkg/session"
	"github.com/theory-cloud/storefront/pkg/shipping"
	"github.com/theory-cloud/storefront/pkg/sms"
	"github.com/theory-cloud/storefront/pkg/store"
	"github.com/theory-cloud/storefront/pkg/store/memory"
)

type (
	// Config is the server configuration
	Config = config.Config
)

// Re-exported for callers outside this module's internal tree.
var (
	DefaultConfig = config.DefaultConfig
	LoadConfig    = config.Load
)

// Store is everything the services need from the document store. Both the DynamoDB store and
// the in-process store satisfy it.
type Store interface {
	checkout.OrderStore
	account.Store
	shipping.Store
	phoneauth.SnapshotStore
	api.Catalog
	api.Orders
}

// Backends are the external systems the storefront talks to
type Backends struct {
	Store       Store
	Challenges  phoneauth.ChallengeStore
	SMS         sms.Sender
	BotCheck    botcheck.Verifier
	Images      images.Uploader
	LocalImages http.Handler
	// Events is nil when side effects run in the API process
	Events checkout.Publisher
}

// App is a fully wired storefront
type App struct {
	server   *api.Server
	runner   *besteffort.Runner
	issuer   *identity.Issuer
	checkout *checkout.Service
	store    Store
	logger   *slog.Logger
	handler  http.Handler
}

// New builds the backends selected by cfg.Mode and wires the storefront over them
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		backends Backends
		err      error
	)
	switch cfg.Mode {
	case config.ModeLocal:
		backends = LocalBackends(cfg, logger)
	case config.ModeAWS:
		backends, err = AWSBackends(ctx, cfg)
	default:
		err = fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return NewWithBackends(cfg, backends, logger)
}

// LocalBackends keeps every backend in process. SMS codes are logged instead of sent.
func LocalBackends(cfg *Config, logger *slog.Logger) Backends {
	db := memory.New()
	uploads := images.NewMemory(strings.TrimRight(cfg.Server.PublicURL, "/") + strings.TrimSuffix(images.ServePath, "/"))
	return Backends{
		Store:       db,
		Challenges:  db.Challenges(),
		SMS:         sms.NewLogSender(logger),
		BotCheck:    newBotCheck(cfg),
		Images:      uploads,
		LocalImages: uploads,
	}
}

// AWSBackends connects to DynamoDB, S3 and SNS
func AWSBackends(ctx context.Context, cfg *Config) (Backends, error) {
	sess, err := session.NewSession(ctx, &cfg.AWS)
	if err != nil {
		return Backends{}, err
	}

	tables := store.DefaultTables(cfg.Tables)
	db := store.New(sess.DynamoDB(), tables)
	if cfg.EnsureTables {
		if err := db.EnsureTables(ctx); err != nil {
			return Backends{}, fmt.Errorf("ensure tables: %w", err)
		}
	}

	challenges, err := challenge.NewManager(sess.DynamoDB(), tables.Challenges,
		challenge.WithLifetime(cfg.OTP.Lifetime),
		challenge.WithMaxAttempts(cfg.OTP.MaxAttempts))
	if err != nil {
		return Backends{}, err
	}

	backends := Backends{
		Store:      db,
		Challenges: challenges,
		SMS: sms.NewSNSSender(sess.SNS(), sms.Config{
			SenderID: cfg.OTP.SMSSenderID,
			MaxPrice: cfg.OTP.SMSMaxPrice,
		}),
		BotCheck: newBotCheck(cfg),
		Images: images.NewS3Uploader(sess.S3(), images.S3Config{
			Bucket:        cfg.Images.Bucket,
			Region:        sess.AWSConfig().Region,
			PublicBaseURL: cfg.Images.PublicBaseURL,
		}),
	}
	if cfg.Events.TopicARN != "" {
		backends.Events = orderevents.NewPublisher(sess.SNS(), cfg.Events.TopicARN)
	}
	return backends, nil
}

func newBotCheck(cfg *Config) botcheck.Verifier {
	if cfg.OTP.RecaptchaSecret == "" {
		return botcheck.Disabled{}
	}
	return botcheck.NewRecaptcha(cfg.OTP.RecaptchaSecret, botcheck.WithMinScore(cfg.OTP.RecaptchaMinScore))
}

// NewWithBackends wires the services and the HTTP API over backends
func NewWithBackends(cfg *Config, backends Backends, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	issuer, err := identity.NewIssuer([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenIssuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	runner := besteffort.NewRunner(logger, besteffort.DefaultTimeout)
	rates := shipping.NewRates(backends.Store, logger)
	mailer := notify.NewMailer(cfg.Email, nil, logger)
	if !mailer.Enabled() {
		logger.Info("order confirmation email disabled: emailjs settings incomplete")
	}

	provider := phoneauth.NewOTPProvider(backends.Challenges, backends.SMS, backends.BotCheck, backends.Store,
		phoneauth.OTPConfig{
			CodeLength:     cfg.OTP.CodeLength,
			SendsPerMinute: cfg.OTP.SendsPerMinute,
			SendBurst:      cfg.OTP.SendBurst,
		},
		phoneauth.WithLogger(logger))

	var checkoutOpts []checkout.Option
	if backends.Events != nil {
		checkoutOpts = append(checkoutOpts, checkout.WithPublisher(backends.Events))
	}
	orderService := checkout.NewService(backends.Store, rates, mailer, runner, logger, cfg.Checkout, checkoutOpts...)

	server := api.New(api.Deps{
		Logger:         logger,
		Resolver:       identity.NewResolver(issuer),
		Issuer:         issuer,
		Sessions:       phoneauth.NewSessions(backends.Store, provider, cfg.Auth.SessionTTL),
		Checkout:       orderService,
		Accounts:       account.NewService(backends.Store, issuer, logger),
		Rates:          rates,
		Catalog:        backends.Store,
		Orders:         backends.Store,
		Images:         backends.Images,
		LocalImages:    backends.LocalImages,
		Messages:       i18n.Default(),
		Protector:      protection.NewResourceProtector(cfg.Limits),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	return &App{
		server:   server,
		runner:   runner,
		issuer:   issuer,
		checkout: orderService,
		store:    backends.Store,
		logger:   logger,
		handler:  server.Handler(),
	}, nil
}

// Handler returns the HTTP handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// Store returns the document store the app writes to
func (a *App) Store() Store {
	return a.store
}

// IssueToken signs a session token, used to bootstrap an admin in local mode
func (a *App) IssueToken(id identity.Identity) (string, error) {
	return a.issuer.Issue(id)
}

// Wait blocks until every dispatched side effect has finished
func (a *App) Wait() {
	a.runner.Wait()
}

// WaitContext is Wait bounded by ctx. The API Lambda calls it with a short deadline because a
// frozen container suspends whatever is still running.
func (a *App) WaitContext(ctx context.Context) error {
	return a.runner.WaitContext(ctx)
}

// OrderEvents returns the consumer for order events published by the API
func (a *App) OrderEvents() *orderevents.Consumer {
	return orderevents.NewConsumer(a.checkout, a.runner, a.logger)
}

// Close stops accepting side effects and waits for running ones until ctx is done
func (a *App) Close(ctx context.Context) error {
	if err := a.runner.Drain(ctx); err != nil {
		a.logger.WarnContext(ctx, "side effects still running at shutdown", slog.Any("error", err))
		return err
	}
	return nil
}
