// Package notify sends transactional order emails through the EmailJS REST API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/theory-cloud/storefront/pkg/model"
)

// DefaultEndpoint is the EmailJS send API
const DefaultEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

// Config holds the three EmailJS settings. If any is empty the mailer is disabled.
type Config struct {
	ServiceID  string        `yaml:"service_id"`
	TemplateID string        `yaml:"template_id"`
	PublicKey  string        `yaml:"public_key"`
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Mailer sends order confirmations
type Mailer struct {
	client *http.Client
	logger *slog.Logger
	config Config
}

// NewMailer creates a Mailer; logger may be nil
func NewMailer(config Config, client *http.Client, logger *slog.Logger) *Mailer {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{client: client, logger: logger, config: config}
}

// Enabled reports whether every EmailJS setting is present
func (m *Mailer) Enabled() bool {
	return m != nil && m.config.ServiceID != "" && m.config.TemplateID != "" && m.config.PublicKey != ""
}

type sendRequest struct {
	TemplateParams map[string]string `json:"template_params"`
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
}

// OrderParams builds the template parameter bag for an order confirmation
func OrderParams(order *model.Order) map[string]string {
	return map[string]string{
		"order_id":       order.ID,
		"customer_name":  order.Customer.Name,
		"customer_phone": order.Customer.Phone,
		"region":         order.Customer.Region,
		"address":        order.Customer.Address,
		"total":          fmt.Sprintf("%.2f", order.TotalPrice),
		"shipping_fee":   fmt.Sprintf("%.2f", order.ShippingFee),
		"items":          ItemSummary(order.Items),
	}
}

// ItemSummary flattens order lines into "name (color) x qty" joined by commas
func ItemSummary(items []model.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name
		if item.Color != "" {
			name = fmt.Sprintf("%s (%s)", name, item.Color)
		}
		parts = append(parts, fmt.Sprintf("%s x%d", name, item.Quantity))
	}
	return strings.Join(parts, ", ")
}

// SendOrderConfirmation posts the order to EmailJS. When the mailer is disabled it returns nil
// without a request.
func (m *Mailer) SendOrderConfirmation(ctx context.Context, order *model.Order) error {
	if m == nil {
		return nil
	}
	if !m.Enabled() {
		m.logger.DebugContext(ctx, "email settings incomplete, skipping confirmation", slog.String("order_id", order.ID))
		return nil
	}

	payload, err := json.Marshal(sendRequest{
		ServiceID:      m.config.ServiceID,
		TemplateID:     m.config.TemplateID,
		UserID:         m.config.PublicKey,
		TemplateParams: OrderParams(order),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("emailjs returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	m.logger.InfoContext(ctx, "order confirmation sent", slog.String("order_id", order.ID))
	return nil
}
