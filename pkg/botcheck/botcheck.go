// Package botcheck verifies the client-side bot challenge that must accompany every code request
package botcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
)

// DefaultVerifyURL is Google's reCAPTCHA verification endpoint
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Verifier checks a bot-challenge token
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Disabled accepts every token
type Disabled struct{}

// Verify always succeeds
func (Disabled) Verify(context.Context, string, string) error { return nil }

// Recaptcha verifies tokens with the reCAPTCHA siteverify API
type Recaptcha struct {
	client    *http.Client
	secret    string
	verifyURL string
	minScore  float64
}

// RecaptchaOption configures a Recaptcha verifier
type RecaptchaOption func(*Recaptcha)

// WithVerifyURL overrides the siteverify endpoint
func WithVerifyURL(u string) RecaptchaOption {
	return func(r *Recaptcha) {
		if u != "" {
			r.verifyURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) RecaptchaOption {
	return func(r *Recaptcha) {
		if c != nil {
			r.client = c
		}
	}
}

// WithMinScore rejects v3 tokens scoring below min
func WithMinScore(min float64) RecaptchaOption {
	return func(r *Recaptcha) {
		r.minScore = min
	}
}

// NewRecaptcha creates a verifier for secret
func NewRecaptcha(secret string, opts ...RecaptchaOption) *Recaptcha {
	r := &Recaptcha{
		client:    &http.Client{Timeout: 10 * time.Second},
		secret:    secret,
		verifyURL: DefaultVerifyURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type siteverifyResponse struct {
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
	Score      float64  `json:"score"`
	Success    bool     `json:"success"`
}

// Verify posts the token to siteverify. A rejected token is ErrBotCheckFailed; transport
// failures are ErrVerificationFailed.
func (r *Recaptcha) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing token", serrors.ErrBotCheckFailed)
	}

	form := url.Values{}
	form.Set("secret", r.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", serrors.ErrVerificationFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: bot check: %w", serrors.ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: bot check returned status %d", serrors.ErrVerificationFailed, resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode bot check: %w", serrors.ErrVerificationFailed, err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", serrors.ErrBotCheckFailed, strings.Join(out.ErrorCodes, ","))
	}
	if r.minScore > 0 && out.Score < r.minScore {
		return fmt.Errorf("%w: score %.2f", serrors.ErrBotCheckFailed, out.Score)
	}
	return nil
}
