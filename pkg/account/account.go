// Package account implements email/password registration, login and profile edits.
//
// A phone number typed in here is stored unverified. It never signs anyone in: only a profile
// whose number was proven with a one-time code is resolved by phone verification, and only such
// a profile makes the number taken. Phone uniqueness is a query-then-write pre-check against the
// phone index. Two verifications racing for the same number can both create a profile; the
// older one wins later lookups. Emails are checked the same way.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 8

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Store is the profile persistence the service needs
type Store interface {
	GetProfile(ctx context.Context, id string) (*model.UserProfile, error)
	CreateProfile(ctx context.Context, profile *model.UserProfile) error
	UpdateProfile(ctx context.Context, profile *model.UserProfile) error
	FindVerifiedProfileByPhone(ctx context.Context, phone string) (*model.UserProfile, error)
	FindProfileByEmail(ctx context.Context, email string) (*model.UserProfile, error)
}

// Service handles account operations
type Service struct {
	store      Store
	issuer     *identity.Issuer
	logger     *slog.Logger
	newID      func() string
	bcryptCost int
}

// Option configures a Service
type Option func(*Service)

// WithBcryptCost overrides the password hashing cost
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// WithIDGenerator overrides user id generation
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService creates a Service; logger may be nil
func NewService(store Store, issuer *identity.Issuer, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:      store,
		issuer:     issuer,
		logger:     logger,
		newID:      uuid.NewString,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest is a new email/password account
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// Session is a signed-in user
type Session struct {
	Profile *model.UserProfile `json:"profile"`
	Token   string             `json:"token"`
}

// Register creates a customer profile and signs it in
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, serrors.NewValidationError("account.name_required", "name")
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, serrors.NewValidationError("account.password_too_short", "password")
	}
	phone, err := normalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	if err := s.checkPhoneFree(ctx, phone, ""); err != nil {
		return nil, err
	}
	if _, err := s.store.FindProfileByEmail(ctx, email); err == nil {
		return nil, serrors.ErrEmailTaken
	} else if !serrors.IsNotFound(err) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	profile := &model.UserProfile{
		ID:           s.newID(),
		Name:         name,
		Email:        email,
		Phone:        phone,
		Address:      strings.TrimSpace(req.Address),
		PasswordHash: string(hash),
		Role:         model.RoleCustomer,
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "account registered", slog.String("user_id", profile.ID))
	return s.session(profile)
}

// Login checks an email/password pair. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	profile, err := s.store.FindProfileByEmail(ctx, email)
	if err != nil {
		if serrors.IsNotFound(err) {
			return nil, serrors.ErrInvalidCredentials
		}
		return nil, err
	}
	if profile.PasswordHash == "" {
		return nil, serrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return nil, serrors.ErrInvalidCredentials
	}
	return s.session(profile)
}

// Profile returns the caller's profile
func (s *Service) Profile(ctx context.Context, id identity.Identity) (*model.UserProfile, error) {
	if id.IsGuest() {
		return nil, serrors.ErrUnauthorized
	}
	return s.store.GetProfile(ctx, id.UserID)
}

// ProfileUpdate holds editable profile fields. Empty fields are left unchanged.
type ProfileUpdate struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// UpdateProfile merges update into the caller's profile
func (s *Service) UpdateProfile(ctx context.Context, id identity.Identity, update ProfileUpdate) (*model.UserProfile, error) {
	profile, err := s.Profile(ctx, id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(update.Name); name != "" {
		profile.Name = name
	}
	if address := strings.TrimSpace(update.Address); address != "" {
		profile.Address = address
	}
	if strings.TrimSpace(update.Phone) != "" {
		phone, err := normalizePhone(update.Phone)
		if err != nil {
			return nil, err
		}
		if phone != profile.Phone {
			if err := s.checkPhoneFree(ctx, phone, profile.ID); err != nil {
				return nil, err
			}
			profile.Phone = phone
			profile.PhoneVerified = false
		}
	}

	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// checkPhoneFree is the pre-check described in the package doc
func (s *Service) checkPhoneFree(ctx context.Context, phone, ownerID string) error {
	if phone == "" {
		return nil
	}
	existing, err := s.store.FindVerifiedProfileByPhone(ctx, phone)
	switch {
	case err == nil && existing.ID != ownerID:
		return serrors.ErrPhoneTaken
	case err == nil, serrors.IsNotFound(err):
		return nil
	default:
		return err
	}
}

func (s *Service) session(profile *model.UserProfile) (*Session, error) {
	token, err := s.issuer.Issue(identity.FromProfile(profile))
	if err != nil {
		return nil, err
	}
	return &Session{Profile: profile, Token: token}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", serrors.NewValidationError("account.invalid_email", "email")
	}
	return email, nil
}

// normalizePhone accepts an optional E.164 number with spaces, dashes or parentheses
func normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, raw)
	if !e164.MatchString(phone) {
		return "", serrors.NewValidationError("account.invalid_phone", "phone")
	}
	return phone, nil
}
