package store

import (
	"context"
	"time"

	"github.com/theory-cloud/storefront/pkg/model"
)

// timeLayout matches the encoding attributevalue uses for time.Time
const timeLayout = time.RFC3339Nano

// GetShippingRates reads the rate table from the settings singleton
func (db *DB) GetShippingRates(ctx context.Context) (model.ShippingRateTable, error) {
	var settings model.ShippingSettings
	if err := db.getItem(ctx, "GetShippingRates", db.tables.Settings, stringKey(model.ShippingSettingsID), &settings); err != nil {
		return nil, err
	}
	return settings.Rates, nil
}

// PutShippingRates replaces the rate table. Last write wins.
func (db *DB) PutShippingRates(ctx context.Context, table model.ShippingRateTable) error {
	return db.putItem(ctx, "PutShippingRates", db.tables.Settings, &model.ShippingSettings{
		ID:        model.ShippingSettingsID,
		Rates:     table,
		UpdatedAt: db.now().UTC(),
	}, "")
}
