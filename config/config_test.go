package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("REVIEW_TTL", "")
	t.Setenv("DEFAULT_FEE_RATE", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Business.ReviewTTL)
	assert.True(t, cfg.Business.DefaultFeeRate.IsZero())
	assert.Equal(t, uint32(5), cfg.Listing.FailureThreshold)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DEFAULT_FEE_RATE", "0.12")
	t.Setenv("SELLER_SHIPPING_COST", "4.25")
	t.Setenv("COMP_REFRESH_DELAY", "250ms")
	t.Setenv("AUTO_MODE_THRESHOLD", "0.9")
	t.Setenv("DATABASE_AUTO_MIGRATE", "true")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Business.DefaultFeeRate.Equal(decimal.RequireFromString("0.12")))
	assert.True(t, cfg.Business.ShippingCost.Equal(decimal.RequireFromString("4.25")))
	assert.Equal(t, 250*time.Millisecond, cfg.Business.CompRefreshDelay)
	assert.Equal(t, 0.9, cfg.Business.AutoModeThreshold)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DEFAULT_TAX_RATE", "eight percent")
	t.Setenv("COMMIT_LOCK_TTL", "soon")

	cfg := Load()

	assert.True(t, cfg.Business.DefaultTaxRate.IsZero())
	assert.Equal(t, 2*time.Minute, cfg.Business.CommitLockTTL)
}
