package pricing

import (
	"context"

	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
)

// Price configuration keys stored in price_config.
const (
	KeyUnitPrice           = "unit_price"
	KeyHalfUnitSurcharge   = "half_unit_surcharge"
	KeyDeliveryFeeNear     = "delivery_fee_near"
	KeyDeliveryFeeFar      = "delivery_fee_far"
	KeyDeliveryFeeDistrict = "delivery_fee_district"
	KeySideDishUnitPrice   = "side_dish_unit_price"
)

// Config maps a pricing parameter to its value. Missing keys read as zero.
type Config map[string]decimal.Decimal

func (c Config) Get(key string) decimal.Decimal {
	if v, ok := c[key]; ok {
		return v
	}
	return decimal.Zero
}

// Lookup is Get with presence reported.
func (c Config) Lookup(key string) (decimal.Decimal, bool) {
	v, ok := c[key]
	return v, ok
}

// ConfigReader loads the full price configuration. Implementations must read
// within the caller's transaction.
type ConfigReader interface {
	PriceConfig(ctx context.Context) (Config, error)
}

type Input struct {
	Quantity         decimal.Decimal
	UnitPrice        decimal.Decimal
	DeliveryMode     models.DeliveryMode
	DeliveryZone     models.DeliveryZone
	WithSideDish     bool
	SideDishQuantity int
}

var two = decimal.NewFromInt(2)

// Total computes the price of an order. It has no side effects.
func Total(in Input, cfg Config) decimal.Decimal {
	whole := in.Quantity.Floor()
	total := whole.Mul(in.UnitPrice)

	if !in.Quantity.Equal(whole) {
		total = total.Add(in.UnitPrice.Div(two)).Add(cfg.Get(KeyHalfUnitSurcharge))
	}

	if in.DeliveryMode == models.DeliveryShipping {
		// Unknown zones add nothing; keeping the fee table complete is the
		// price configuration's job.
		total = total.Add(cfg.Get(DeliveryFeeKey(in.DeliveryZone)))
	}

	if in.WithSideDish && in.SideDishQuantity > 0 {
		total = total.Add(decimal.NewFromInt(int64(in.SideDishQuantity)).Mul(cfg.Get(KeySideDishUnitPrice)))
	}

	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// DeliveryFeeKey returns the config key for zone, or "" when unrecognized.
func DeliveryFeeKey(zone models.DeliveryZone) string {
	switch zone {
	case models.ZoneNear:
		return KeyDeliveryFeeNear
	case models.ZoneFar:
		return KeyDeliveryFeeFar
	case models.ZoneDistrict:
		return KeyDeliveryFeeDistrict
	}
	return ""
}

// UnitPrice prefers the configured unit price over the command's.
func UnitPrice(cfg Config, requested decimal.Decimal) decimal.Decimal {
	if v, ok := cfg.Lookup(KeyUnitPrice); ok && v.IsPositive() {
		return v
	}
	return requested
}

// Defaults seeds a fresh price_config table.
func Defaults() Config {
	return Config{
		KeyHalfUnitSurcharge:   decimal.NewFromInt(20),
		KeyDeliveryFeeNear:     decimal.NewFromInt(15),
		KeyDeliveryFeeFar:      decimal.NewFromInt(30),
		KeyDeliveryFeeDistrict: decimal.NewFromInt(45),
		KeySideDishUnitPrice:   decimal.NewFromInt(25),
	}
}
