package phoneauth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/theory-cloud/storefront/pkg/challenge"
	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
	"github.com/theory-cloud/storefront/pkg/protection"
	"github.com/theory-cloud/storefront/pkg/sms"
	"github.com/theory-cloud/storefront/pkg/store/memory"
)

type fixture struct {
	store    *memory.Store
	sender   *sms.LogSender
	provider *OTPProvider
	codes    []string
}

func newFixture(t *testing.T, opts ...OTPOption) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), sender: sms.NewLogSender(nil)}
	next := 0
	gen := func(length int) (string, error) {
		next++
		code := fmt.Sprintf("%0*d", length, next)
		f.codes = append(f.codes, code)
		return code, nil
	}
	config := OTPConfig{CodeLength: 6, BcryptCost: bcrypt.MinCost, SendsPerMinute: 60, SendBurst: 100}
	opts = append([]OTPOption{WithCodeGenerator(gen)}, opts...)
	f.provider = NewOTPProvider(f.store.Challenges(), f.sender, nil, f.store, config, opts...)
	return f
}

func (f *fixture) lastCode() string {
	return f.codes[len(f.codes)-1]
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		country  string
		national string
		want     string
		wantErr  bool
	}{
		{name: "plain", country: "+1", national: "5551234567", want: "+15551234567"},
		{name: "formatted", country: "+966", national: "(050) 123-4567", want: "+966501234567"},
		{name: "trunk zero", country: "+44", national: "07700 900123", want: "+447700900123"},
		{name: "one trunk zero only", country: "+966", national: "00501234567", want: "+9660501234567"},
		{name: "too short", country: "+1", national: "555-12", wantErr: true},
		{name: "too short after trunk zero", country: "+1", national: "0555123", wantErr: true},
		{name: "missing plus", country: "1", national: "5551234567", wantErr: true},
		{name: "leading zero country", country: "+01", national: "5551234567", wantErr: true},
		{name: "too long", country: "+1234", national: "12345678901234", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.country, tt.national)
			if tt.wantErr {
				assert.ErrorIs(t, err, serrors.ErrInvalidPhoneNumber)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGateHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gate := NewGate(f.provider, model.GateSnapshot{})
	assert.Equal(t, model.GateUnverified, gate.State())

	require.NoError(t, gate.RequestCode(ctx, "+1", "555 123 4567", "", "", "en"))
	assert.Equal(t, model.GateCodeRequested, gate.State())
	assert.Equal(t, "+15551234567", gate.Phone())

	msg, ok := f.sender.Last("+15551234567")
	require.True(t, ok)
	assert.Contains(t, msg.Body, f.lastCode())

	id, err := gate.ConfirmCode(ctx, f.lastCode())
	require.NoError(t, err)
	assert.True(t, gate.Verified())
	assert.Equal(t, "+15551234567", id.Phone)
	assert.NotEmpty(t, id.UserID)
	assert.Equal(t, model.RoleCustomer, id.Role)

	gateID, ok := gate.Identity()
	require.True(t, ok)
	assert.Equal(t, id.UserID, gateID.UserID)

	profile, err := f.store.FindVerifiedProfileByPhone(ctx, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, id.UserID, profile.ID)
	assert.True(t, profile.PhoneVerified)
	assert.Equal(t, 0, f.store.Challenges().Len())
}

func TestConfirmReusesExistingProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.CreateProfile(ctx, &model.UserProfile{ID: "u-admin", Phone: "+15551234567", Role: model.RoleAdmin, PhoneVerified: true}))

	gate := NewGate(f.provider, model.GateSnapshot{})
	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))
	id, err := gate.ConfirmCode(ctx, f.lastCode())
	require.NoError(t, err)
	assert.Equal(t, "u-admin", id.UserID)
	assert.True(t, id.IsAdmin())
}

func TestConfirmIgnoresUnverifiedClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.CreateProfile(ctx, &model.UserProfile{
		ID:    "u-claimant",
		Email: "claimant@example.com",
		Phone: "+15551234567",
		Role:  model.RoleCustomer,
	}))

	gate := NewGate(f.provider, model.GateSnapshot{})
	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))
	id, err := gate.ConfirmCode(ctx, f.lastCode())
	require.NoError(t, err)
	assert.NotEqual(t, "u-claimant", id.UserID)

	profile, err := f.store.GetProfile(ctx, id.UserID)
	require.NoError(t, err)
	assert.True(t, profile.PhoneVerified)
	assert.Empty(t, profile.Email)
}

func TestWrongCodeStaysCodeRequested(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gate := NewGate(f.provider, model.GateSnapshot{})
	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))

	_, err := gate.ConfirmCode(ctx, "999999")
	assert.ErrorIs(t, err, serrors.ErrInvalidCode)
	assert.Equal(t, model.GateCodeRequested, gate.State())

	id, err := gate.ConfirmCode(ctx, f.lastCode())
	require.NoError(t, err)
	assert.False(t, id.IsGuest())
}

func TestOldHandleFailsAfterRerequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gate := NewGate(f.provider, model.GateSnapshot{})

	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))
	oldHandle := gate.Snapshot().ChallengeID
	oldCode := f.lastCode()

	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))
	assert.NotEqual(t, oldHandle, gate.Snapshot().ChallengeID)

	_, err := f.provider.Confirm(ctx, oldHandle, oldCode)
	assert.True(t, challenge.IsNotFound(err))
	assert.ErrorIs(t, err, serrors.ErrChallengeExpired)

	_, err = gate.ConfirmCode(ctx, oldCode)
	assert.ErrorIs(t, err, serrors.ErrInvalidCode)
	assert.Equal(t, model.GateCodeRequested, gate.State())

	_, err = gate.ConfirmCode(ctx, f.lastCode())
	require.NoError(t, err)
}

func TestVerifiedIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gate := NewGate(f.provider, model.GateSnapshot{})
	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))
	_, err := gate.ConfirmCode(ctx, f.lastCode())
	require.NoError(t, err)

	assert.ErrorIs(t, gate.RequestCode(ctx, "+1", "5559999999", "", "", "en"), serrors.ErrAlreadyVerified)
	_, err = gate.ConfirmCode(ctx, "123456")
	assert.ErrorIs(t, err, serrors.ErrAlreadyVerified)
	assert.Equal(t, "+15551234567", gate.Phone())
}

func TestConfirmWithoutRequest(t *testing.T) {
	gate := NewGate(newFixture(t).provider, model.GateSnapshot{})
	_, err := gate.ConfirmCode(context.Background(), "123456")
	assert.ErrorIs(t, err, serrors.ErrNoPendingCode)
}

func TestAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gate := NewGate(f.provider, model.GateSnapshot{})
	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))

	var err error
	for i := 0; i < challenge.DefaultMaxAttempts; i++ {
		_, err = gate.ConfirmCode(ctx, "000000")
	}
	assert.ErrorIs(t, err, serrors.ErrTooManyRequests)

	_, err = gate.ConfirmCode(ctx, f.lastCode())
	assert.ErrorIs(t, err, serrors.ErrChallengeExpired)
	assert.Equal(t, model.GateCodeRequested, gate.State())
}

func TestSendRateLimited(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	limiter := protection.NewKeyedLimiterWithClock(1.0/60, 1, func() time.Time { return now })
	f := newFixture(t, WithLimiter(limiter))

	gate := NewGate(f.provider, model.GateSnapshot{})
	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))
	err := gate.RequestCode(ctx, "+1", "5551234567", "", "", "en")
	assert.ErrorIs(t, err, serrors.ErrTooManyRequests)
	assert.Equal(t, model.GateUnverified, gate.State())

	other := NewGate(f.provider, model.GateSnapshot{})
	assert.NoError(t, other.RequestCode(ctx, "+1", "5557654321", "", "", "en"))
}

type failingSender struct{ err error }

func (s failingSender) Send(context.Context, string, string) error { return s.err }

func TestSendFailureRevokesChallenge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	provider := NewOTPProvider(store.Challenges(), failingSender{err: serrors.ErrInvalidPhoneNumber}, nil, store,
		OTPConfig{BcryptCost: bcrypt.MinCost})

	gate := NewGate(provider, model.GateSnapshot{})
	err := gate.RequestCode(ctx, "+1", "5551234567", "", "", "en")
	assert.ErrorIs(t, err, serrors.ErrInvalidPhoneNumber)
	assert.Equal(t, 0, store.Challenges().Len())
	assert.Equal(t, model.GateUnverified, gate.State())
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Challenge(ctx context.Context, req ChallengeRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Confirm(ctx context.Context, handle, code string) (identity.Identity, error) {
	args := m.Called(ctx, handle, code)
	return args.Get(0).(identity.Identity), args.Error(1)
}

func (m *MockProvider) Revoke(ctx context.Context, handle string) {
	m.Called(ctx, handle)
}

func TestProviderErrorsAreClassified(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown failure becomes verification failure", func(t *testing.T) {
		p := new(MockProvider)
		p.On("Challenge", mock.Anything, mock.Anything).Return("", errors.New("boom"))
		gate := NewGate(p, model.GateSnapshot{})

		err := gate.RequestCode(ctx, "+1", "5551234567", "tok", "10.0.0.1", "en")
		assert.ErrorIs(t, err, serrors.ErrVerificationFailed)
		p.AssertExpectations(t)
	})

	t.Run("rate limit stays distinct", func(t *testing.T) {
		p := new(MockProvider)
		p.On("Challenge", mock.Anything, mock.Anything).Return("", serrors.ErrTooManyRequests)
		gate := NewGate(p, model.GateSnapshot{})

		err := gate.RequestCode(ctx, "+1", "5551234567", "tok", "", "en")
		assert.ErrorIs(t, err, serrors.ErrTooManyRequests)
		assert.NotErrorIs(t, err, serrors.ErrVerificationFailed)
	})

	t.Run("rerequest revokes pending handle", func(t *testing.T) {
		p := new(MockProvider)
		p.On("Revoke", mock.Anything, "h-1").Return().Once()
		p.On("Challenge", mock.Anything, ChallengeRequest{Phone: "+15551234567", BotToken: "tok", Language: "ar"}).Return("h-2", nil)
		gate := NewGate(p, model.GateSnapshot{State: model.GateCodeRequested, ChallengeID: "h-1", Phone: "+15551234567"})

		require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "tok", "", "ar"))
		assert.Equal(t, "h-2", gate.Snapshot().ChallengeID)
		p.AssertExpectations(t)
	})

	t.Run("invalid number never reaches provider", func(t *testing.T) {
		p := new(MockProvider)
		gate := NewGate(p, model.GateSnapshot{})
		assert.ErrorIs(t, gate.RequestCode(ctx, "+1", "12", "", "", "en"), serrors.ErrInvalidPhoneNumber)
		p.AssertNotCalled(t, "Challenge", mock.Anything, mock.Anything)
	})
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Unix(1_000_000, 0)
	f.store.SetClock(func() time.Time { return now })
	sessions := NewSessions(f.store, f.provider, time.Hour).WithClock(func() time.Time { return now })

	gate, err := sessions.Load(ctx, "")
	require.NoError(t, err)
	sessionID := gate.Snapshot().ID
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, model.GateUnverified, gate.State())

	require.NoError(t, gate.RequestCode(ctx, "+1", "5551234567", "", "", "en"))
	require.NoError(t, sessions.Save(ctx, gate))

	loaded, err := sessions.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.GateCodeRequested, loaded.State())
	_, err = loaded.ConfirmCode(ctx, f.lastCode())
	require.NoError(t, err)
	require.NoError(t, sessions.Save(ctx, loaded))

	again, err := sessions.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, again.Verified())

	now = now.Add(2 * time.Hour)
	expired, err := sessions.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.NotEqual(t, sessionID, expired.Snapshot().ID)
	assert.False(t, expired.Verified())
}

func TestRandomCode(t *testing.T) {
	code, err := RandomCode(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
	_, err = RandomCode(0)
	assert.Error(t, err)
}
