// Package shipping serves the live region rate table, backed by the settings document and
// filled in from the built-in per-state defaults.
package shipping

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Store reads and writes the shipping settings document
type Store interface {
	GetShippingRates(ctx context.Context) (model.ShippingRateTable, error)
	PutShippingRates(ctx context.Context, table model.ShippingRateTable) error
}

// Defaults returns a fresh copy of the built-in rate table
func Defaults() model.ShippingRateTable {
	var doc struct {
		Rates map[string]float64 `yaml:"rates"`
	}
	if err := yaml.Unmarshal(defaultsYAML, &doc); err != nil {
		panic(fmt.Sprintf("shipping: embedded defaults are invalid: %v", err))
	}
	return model.ShippingRateTable(doc.Rates)
}

// Rates resolves the rate table used for quotes and checkout
type Rates struct {
	store    Store
	logger   *slog.Logger
	defaults model.ShippingRateTable
}

// NewRates creates a Rates over store
func NewRates(store Store, logger *slog.Logger) *Rates {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rates{store: store, logger: logger, defaults: Defaults()}
}

// Table returns the stored rates layered over the defaults. A missing or unreadable settings
// document yields the defaults; the read failure is logged, not returned.
func (r *Rates) Table(ctx context.Context) model.ShippingRateTable {
	table := maps.Clone(r.defaults)
	stored, err := r.store.GetShippingRates(ctx)
	switch {
	case err == nil:
		maps.Copy(table, stored)
	case serrors.IsNotFound(err):
	default:
		r.logger.WarnContext(ctx, "shipping rates unavailable, using defaults", slog.Any("error", err))
	}
	return table
}

// Update replaces the stored rate table. Last write wins.
func (r *Rates) Update(ctx context.Context, table model.ShippingRateTable) error {
	if len(table) == 0 {
		return serrors.NewValidationError("shipping.rates_required", "rates")
	}
	clean := make(model.ShippingRateTable, len(table))
	for region, fee := range table {
		region = strings.TrimSpace(region)
		if region == "" {
			return serrors.NewValidationError("shipping.region_required", "rates")
		}
		if fee < 0 || math.IsNaN(fee) || math.IsInf(fee, 0) {
			return serrors.NewValidationError("shipping.invalid_fee", region)
		}
		clean[region] = fee
	}
	return r.store.PutShippingRates(ctx, clean)
}
