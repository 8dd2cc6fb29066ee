// Package phoneauth proves control of a phone number before an order may be placed.
//
// A Gate moves unverified -> code-requested -> verified. Requesting a code always invalidates
// the pending one first, a wrong code leaves the gate in code-requested, and verified is
// terminal for the checkout session.
package phoneauth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
)

// MinPhoneDigits is the minimum number of digits in the national part of a phone number
const MinPhoneDigits = 7

var countryCodePattern = regexp.MustCompile(`^\+[1-9][0-9]{0,3}$`)

// NormalizePhone builds an E.164 number from a "+NNN" country code and a free-form national
// number. Everything but digits is stripped from the national number, then a single national
// trunk prefix "0" is dropped: "+966" with "(050) 123-4567" is "+966501234567".
func NormalizePhone(countryCode, nationalNumber string) (string, error) {
	countryCode = strings.TrimSpace(countryCode)
	if !countryCodePattern.MatchString(countryCode) {
		return "", fmt.Errorf("%w: bad country code", serrors.ErrInvalidPhoneNumber)
	}
	digits := strings.TrimPrefix(digitsOnly(nationalNumber), "0")
	if len(digits) < MinPhoneDigits {
		return "", fmt.Errorf("%w: need at least %d digits", serrors.ErrInvalidPhoneNumber, MinPhoneDigits)
	}
	if len(countryCode)-1+len(digits) > 15 {
		return "", fmt.Errorf("%w: too many digits", serrors.ErrInvalidPhoneNumber)
	}
	return countryCode + digits, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Gate is one checkout session's phone verification state
type Gate struct {
	provider Provider
	snap     model.GateSnapshot
}

// NewGate restores a gate from snap; a zero snapshot is an unverified gate
func NewGate(provider Provider, snap model.GateSnapshot) *Gate {
	if snap.State == "" {
		snap.State = model.GateUnverified
	}
	return &Gate{provider: provider, snap: snap}
}

// State returns the current state
func (g *Gate) State() model.GateState {
	return g.snap.State
}

// Verified reports whether the gate has reached its terminal state
func (g *Gate) Verified() bool {
	return g.snap.State == model.GateVerified
}

// Phone returns the number being (or already) verified
func (g *Gate) Phone() string {
	return g.snap.Phone
}

// Identity returns the identity that verified the phone
func (g *Gate) Identity() (identity.Identity, bool) {
	if !g.Verified() || g.snap.UserID == "" {
		return identity.Identity{}, false
	}
	return identity.Identity{UserID: g.snap.UserID, Phone: g.snap.Phone, Role: g.snap.Role}, true
}

// Snapshot returns the persistable state
func (g *Gate) Snapshot() model.GateSnapshot {
	return g.snap
}

// RequestCode sends a new code to countryCode+nationalNumber. Any pending challenge is
// revoked first, so its code can no longer be confirmed. Each call may send a billable SMS.
func (g *Gate) RequestCode(ctx context.Context, countryCode, nationalNumber, botToken, remoteIP, lang string) error {
	if g.Verified() {
		return serrors.ErrAlreadyVerified
	}

	phone, err := NormalizePhone(countryCode, nationalNumber)
	if err != nil {
		return err
	}

	g.reset(ctx)

	handle, err := g.provider.Challenge(ctx, ChallengeRequest{
		Phone:    phone,
		BotToken: botToken,
		RemoteIP: remoteIP,
		Language: lang,
	})
	if err != nil {
		return verificationError(err)
	}

	g.snap.State = model.GateCodeRequested
	g.snap.Phone = phone
	g.snap.ChallengeID = handle
	return nil
}

// ConfirmCode redeems the pending challenge. On success the gate is verified; on failure it
// stays in code-requested and the caller may try again or request a new code.
func (g *Gate) ConfirmCode(ctx context.Context, code string) (identity.Identity, error) {
	switch g.snap.State {
	case model.GateVerified:
		return identity.Identity{}, serrors.ErrAlreadyVerified
	case model.GateCodeRequested:
	default:
		return identity.Identity{}, serrors.ErrNoPendingCode
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return identity.Identity{}, serrors.ErrInvalidCode
	}

	id, err := g.provider.Confirm(ctx, g.snap.ChallengeID, code)
	if err != nil {
		return identity.Identity{}, verificationError(err)
	}

	g.snap.State = model.GateVerified
	g.snap.ChallengeID = ""
	g.snap.UserID = id.UserID
	g.snap.Role = id.Role
	return id, nil
}

func (g *Gate) reset(ctx context.Context) {
	if g.snap.ChallengeID != "" {
		g.provider.Revoke(ctx, g.snap.ChallengeID)
	}
	g.snap.State = model.GateUnverified
	g.snap.ChallengeID = ""
	g.snap.Phone = ""
}

// verificationError keeps known verification and storage failures and folds everything else
// into ErrVerificationFailed
func verificationError(err error) error {
	if serrors.IsVerification(err) || serrors.IsPersistence(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", serrors.ErrVerificationFailed, err)
}
