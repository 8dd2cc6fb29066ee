package storefront

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
	"github.com/theory-cloud/storefront/pkg/orderevents"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func localConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewLocal(t *testing.T) {
	app, err := New(context.Background(), localConfig(t), quietLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, app.Close(ctx))
}

func TestNewUnknownMode(t *testing.T) {
	cfg := localConfig(t)
	cfg.Mode = "mainframe"
	_, err := New(context.Background(), cfg, quietLogger())
	assert.ErrorContains(t, err, "unknown mode")
}

func TestLocalAdminToken(t *testing.T) {
	app, err := New(context.Background(), localConfig(t), quietLogger())
	require.NoError(t, err)

	token, err := app.IssueToken(identity.Identity{UserID: "local-admin", Role: model.RoleAdmin})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/categories/scarves",
		strings.NewReader(`{"name":{"en":"Scarves","ar":"أوشحة"}}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	categories, err := app.Store().ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "scarves", categories[0].ID)
}

func TestCORSPreflight(t *testing.T) {
	app, err := New(context.Background(), localConfig(t), quietLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type,x-checkout-session")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOrderEventsDecrementStock(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, localConfig(t), quietLogger())
	require.NoError(t, err)
	require.NoError(t, app.Store().PutProduct(ctx, &model.Product{ID: "abaya", Price: 45, Stock: 10}))

	body, err := json.Marshal(orderevents.Envelope{
		Type: orderevents.EventOrderPlaced,
		Order: &model.Order{
			ID:    "o-1",
			Items: []model.OrderItem{{ProductID: "abaya", Quantity: 2, Price: 45}},
		},
	})
	require.NoError(t, err)

	require.NoError(t, app.OrderEvents().Handle(ctx, events.SNSEvent{Records: []events.SNSEventRecord{
		{SNS: events.SNSEntity{MessageID: "m-1", Message: string(body)}},
	}}))

	product, err := app.Store().GetProduct(ctx, "abaya")
	require.NoError(t, err)
	assert.Equal(t, 8, product.Stock)
}
