package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRateService_Resolve(t *testing.T) {
	ctx := context.Background()
	defaultRate := models.Rate{Kind: models.RatePercentage, Value: decimal.RequireFromString("0.01")}

	t.Run("SystemRateByTypeAndCurrency", func(t *testing.T) {
		rateRepo := &fakeRateRepo{rates: map[string]models.Rate{
			"internal:USD": {Kind: models.RateFlat, Value: decimal.NewFromInt(2)},
		}}
		svc := NewRateService(rateRepo, newFakeRedis(), defaultRate)

		rate, err := svc.Resolve(ctx, TransferTypeInternal, "USD", nil, decimal.NewFromInt(100))
		assert.NoError(t, err)
		assert.Equal(t, models.RateFlat, rate.Kind)
		assert.True(t, rate.Value.Equal(decimal.NewFromInt(2)))
	})

	t.Run("MissingConfigurationFallsBackToDefault", func(t *testing.T) {
		svc := NewRateService(&fakeRateRepo{rates: map[string]models.Rate{}}, newFakeRedis(), defaultRate)

		rate, err := svc.Resolve(ctx, TransferTypeCity, "EUR", nil, decimal.NewFromInt(100))
		assert.NoError(t, err)
		assert.Equal(t, defaultRate.Kind, rate.Kind)
		assert.True(t, rate.Value.Equal(defaultRate.Value))
	})

	t.Run("SecondLookupServedFromCache", func(t *testing.T) {
		rateRepo := &fakeRateRepo{rates: map[string]models.Rate{
			"international:USD": {Kind: models.RatePerMille, Value: decimal.NewFromInt(5)},
		}}
		cache := newFakeRedis()
		svc := NewRateService(rateRepo, cache, defaultRate)

		first, err := svc.Resolve(ctx, TransferTypeInternational, "USD", nil, decimal.NewFromInt(100))
		assert.NoError(t, err)

		// Remove the repo entry; the cached copy must still resolve.
		delete(rateRepo.rates, "international:USD")
		second, err := svc.Resolve(ctx, TransferTypeInternational, "USD", nil, decimal.NewFromInt(100))
		assert.NoError(t, err)
		assert.Equal(t, first.Kind, second.Kind)
		assert.True(t, first.Value.Equal(second.Value))
	})

	t.Run("OfficeTierWinsOverSystemRate", func(t *testing.T) {
		rateRepo := &fakeRateRepo{
			rates: map[string]models.Rate{
				"city:USD": {Kind: models.RatePercentage, Value: decimal.RequireFromString("0.05")},
			},
			tiers: []models.OfficeCommissionTier{{
				OfficeID: 4, Currency: "USD",
				MinAmount: decimal.NewFromInt(0), MaxAmount: decimal.NewFromInt(1000),
				Kind: models.RateFlat, Value: decimal.NewFromInt(3),
			}},
		}
		svc := NewRateService(rateRepo, newFakeRedis(), defaultRate)

		rate, err := svc.Resolve(ctx, TransferTypeCity, "USD", &models.Corridor{OfficeID: 4}, decimal.NewFromInt(100))
		assert.NoError(t, err)
		assert.Equal(t, models.RateFlat, rate.Kind)
		assert.True(t, rate.Value.Equal(decimal.NewFromInt(3)))
	})

	t.Run("MostSpecificTierWins", func(t *testing.T) {
		rateRepo := &fakeRateRepo{tiers: []models.OfficeCommissionTier{
			{
				OfficeID: 4, Currency: "USD",
				MinAmount: decimal.Zero,
				Kind:      models.RateFlat, Value: decimal.NewFromInt(3),
			},
			{
				OfficeID: 4, Currency: "USD",
				MinAmount:    decimal.Zero,
				OriginCityID: 10, DestinationCityID: 20,
				Kind: models.RateFlat, Value: decimal.NewFromInt(1),
			},
		}}
		svc := NewRateService(rateRepo, newFakeRedis(), defaultRate)

		corridor := models.Corridor{OfficeID: 4, OriginCityID: 10, DestinationCityID: 20}
		rate, ok, err := svc.ResolveOfficeTier(ctx, "USD", corridor, decimal.NewFromInt(100))
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, rate.Value.Equal(decimal.NewFromInt(1)))
	})

	t.Run("AmountOutsideAllTiers", func(t *testing.T) {
		rateRepo := &fakeRateRepo{tiers: []models.OfficeCommissionTier{{
			OfficeID: 4, Currency: "USD",
			MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(500),
			Kind: models.RateFlat, Value: decimal.NewFromInt(3),
		}}}
		svc := NewRateService(rateRepo, newFakeRedis(), defaultRate)

		_, ok, err := svc.ResolveOfficeTier(ctx, "USD", models.Corridor{OfficeID: 4}, decimal.NewFromInt(50))
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}
