package phoneauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/theory-cloud/storefront/pkg/botcheck"
	"github.com/theory-cloud/storefront/pkg/challenge"
	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
	"github.com/theory-cloud/storefront/pkg/protection"
	"github.com/theory-cloud/storefront/pkg/sms"
)

// Provider is the phone sign-in primitive the gate drives. Challenge sends a code and returns
// an opaque handle; Confirm redeems the handle with the code.
type Provider interface {
	Challenge(ctx context.Context, req ChallengeRequest) (handle string, err error)
	Confirm(ctx context.Context, handle, code string) (identity.Identity, error)
	Revoke(ctx context.Context, handle string)
}

// ChallengeRequest carries a normalized phone number and the bot-check proof
type ChallengeRequest struct {
	Phone    string
	BotToken string
	RemoteIP string
	Language string
}

// ChallengeStore persists pending challenges
type ChallengeStore interface {
	Issue(ctx context.Context, phone, codeHash string) (*model.Challenge, error)
	Get(ctx context.Context, id string) (*model.Challenge, error)
	RecordFailure(ctx context.Context, id string) (int, error)
	Consume(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string)
}

// ProfileStore resolves the user behind a verified phone
type ProfileStore interface {
	FindVerifiedProfileByPhone(ctx context.Context, phone string) (*model.UserProfile, error)
	CreateProfile(ctx context.Context, profile *model.UserProfile) error
}

// OTPConfig tunes the OTP provider
type OTPConfig struct {
	CodeLength     int
	BcryptCost     int
	SendsPerMinute float64
	SendBurst      int
}

// DefaultOTPConfig returns production defaults: 6 digits, bcrypt default cost, and at most
// 3 codes per phone in a burst refilling at one per minute
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		CodeLength:     6,
		BcryptCost:     bcrypt.DefaultCost,
		SendsPerMinute: 1,
		SendBurst:      3,
	}
}

// OTPProvider issues SMS one-time codes backed by a challenge store
type OTPProvider struct {
	challenges ChallengeStore
	sender     sms.Sender
	bot        botcheck.Verifier
	limiter    *protection.KeyedLimiter
	profiles   ProfileStore
	logger     *slog.Logger
	code       func(length int) (string, error)
	newID      func() string
	config     OTPConfig
}

// OTPOption configures an OTPProvider
type OTPOption func(*OTPProvider)

// WithCodeGenerator overrides the random code source
func WithCodeGenerator(gen func(length int) (string, error)) OTPOption {
	return func(p *OTPProvider) {
		if gen != nil {
			p.code = gen
		}
	}
}

// WithLimiter overrides the per-phone send limiter
func WithLimiter(l *protection.KeyedLimiter) OTPOption {
	return func(p *OTPProvider) {
		if l != nil {
			p.limiter = l
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OTPOption {
	return func(p *OTPProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewOTPProvider creates an OTPProvider
func NewOTPProvider(challenges ChallengeStore, sender sms.Sender, bot botcheck.Verifier, profiles ProfileStore, config OTPConfig, opts ...OTPOption) *OTPProvider {
	defaults := DefaultOTPConfig()
	if config.CodeLength <= 0 {
		config.CodeLength = defaults.CodeLength
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = defaults.BcryptCost
	}
	if config.SendsPerMinute <= 0 {
		config.SendsPerMinute = defaults.SendsPerMinute
	}
	if config.SendBurst <= 0 {
		config.SendBurst = defaults.SendBurst
	}
	if bot == nil {
		bot = botcheck.Disabled{}
	}

	p := &OTPProvider{
		challenges: challenges,
		sender:     sender,
		bot:        bot,
		profiles:   profiles,
		limiter:    protection.NewKeyedLimiter(config.SendsPerMinute/60, config.SendBurst),
		logger:     slog.Default(),
		code:       RandomCode,
		newID:      uuid.NewString,
		config:     config,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Challenge verifies the bot token, rate-limits per phone, stores a hashed code and texts it
func (p *OTPProvider) Challenge(ctx context.Context, req ChallengeRequest) (string, error) {
	if err := p.bot.Verify(ctx, req.BotToken, req.RemoteIP); err != nil {
		return "", err
	}
	if !p.limiter.Allow(req.Phone) {
		return "", fmt.Errorf("%w: code requests for this number are limited", serrors.ErrTooManyRequests)
	}

	code, err := p.code(p.config.CodeLength)
	if err != nil {
		return "", fmt.Errorf("%w: generate code: %w", serrors.ErrVerificationFailed, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), p.config.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("%w: hash code: %w", serrors.ErrVerificationFailed, err)
	}

	ch, err := p.challenges.Issue(ctx, req.Phone, string(hash))
	if err != nil {
		return "", fmt.Errorf("%w: %w", serrors.ErrVerificationFailed, err)
	}

	if err := p.sender.Send(ctx, req.Phone, codeMessage(code, req.Language)); err != nil {
		p.challenges.Revoke(ctx, ch.ID)
		return "", err
	}

	p.logger.InfoContext(ctx, "verification code sent", slog.String("challenge_id", ch.ID))
	return ch.ID, nil
}

// Confirm checks code against the challenge. A wrong code counts against the challenge;
// a right one consumes it and resolves (or creates) the profile that owns the phone.
func (p *OTPProvider) Confirm(ctx context.Context, handle, code string) (identity.Identity, error) {
	ch, err := p.challenges.Get(ctx, handle)
	if err != nil {
		if challenge.IsNotFound(err) {
			return identity.Identity{}, err
		}
		return identity.Identity{}, fmt.Errorf("%w: %w", serrors.ErrVerificationFailed, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(code)); err != nil {
		attempts, recErr := p.challenges.RecordFailure(ctx, handle)
		if challenge.IsAttemptsExhausted(recErr) {
			return identity.Identity{}, recErr
		}
		if recErr != nil {
			p.logger.WarnContext(ctx, "failed to record verification attempt", slog.Any("error", recErr))
		}
		p.logger.InfoContext(ctx, "wrong verification code", slog.String("challenge_id", handle), slog.Int("attempts", attempts))
		return identity.Identity{}, serrors.ErrInvalidCode
	}

	if err := p.challenges.Consume(ctx, handle); err != nil {
		if challenge.IsNotFound(err) {
			return identity.Identity{}, err
		}
		return identity.Identity{}, fmt.Errorf("%w: %w", serrors.ErrVerificationFailed, err)
	}

	profile, err := p.resolveProfile(ctx, ch.Phone)
	if err != nil {
		return identity.Identity{}, err
	}
	id := identity.FromProfile(profile)
	id.Phone = ch.Phone
	return id, nil
}

// Revoke invalidates a pending handle
func (p *OTPProvider) Revoke(ctx context.Context, handle string) {
	p.challenges.Revoke(ctx, handle)
}

func (p *OTPProvider) resolveProfile(ctx context.Context, phone string) (*model.UserProfile, error) {
	profile, err := p.profiles.FindVerifiedProfileByPhone(ctx, phone)
	if err == nil {
		return profile, nil
	}
	if !serrors.IsNotFound(err) {
		return nil, err
	}

	profile = &model.UserProfile{
		ID:            p.newID(),
		Phone:         phone,
		Role:          model.RoleCustomer,
		PhoneVerified: true,
	}
	if err := p.profiles.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "created profile for verified phone", slog.String("user_id", profile.ID))
	return profile, nil
}

// RandomCode returns length decimal digits from crypto/rand
func RandomCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive")
	}
	buf := make([]byte, length)
	ten := big.NewInt(10)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

func codeMessage(code, lang string) string {
	if lang == "ar" {
		return fmt.Sprintf("رمز التحقق الخاص بك هو %s\nYour verification code is %s", code, code)
	}
	return fmt.Sprintf("Your verification code is %s\nرمز التحقق الخاص بك هو %s", code, code)
}
