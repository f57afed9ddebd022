package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/redis"
	"github.com/tahwil/tahwil-ledger/internal/models"
	"github.com/tahwil/tahwil-ledger/internal/repository"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
)

const rateCacheTTL = 5 * time.Minute

// RateResolver looks up the applicable commission rate for a transfer type,
// currency and optional corridor.
type RateResolver interface {
	Resolve(ctx context.Context, transferType, currency string, corridor *models.Corridor, amount decimal.Decimal) (models.Rate, error)
	// ResolveOfficeTier returns the office's own tiered rate for the
	// corridor, or ok=false when the office has no matching tier. No
	// system-wide fallback is applied.
	ResolveOfficeTier(ctx context.Context, currency string, corridor models.Corridor, amount decimal.Decimal) (models.Rate, bool, error)
}

type rateService struct {
	rateRepo    repository.RateRepository
	redisClient redis.RedisClient
	defaultRate models.Rate
}

func NewRateService(rateRepo repository.RateRepository, redisClient redis.RedisClient, defaultRate models.Rate) *rateService {
	return &rateService{rateRepo: rateRepo, redisClient: redisClient, defaultRate: defaultRate}
}

// Resolve prefers an office tier whose city narrowing is most specific and
// whose [min,max) bounds contain the amount, then the system-wide rate for
// the transfer type, then the configured default. A missing configuration
// never fails a transfer.
func (s *rateService) Resolve(ctx context.Context, transferType, currency string, corridor *models.Corridor, amount decimal.Decimal) (models.Rate, error) {
	if corridor != nil && corridor.OfficeID != 0 {
		rate, ok, err := s.ResolveOfficeTier(ctx, currency, *corridor, amount)
		if err != nil {
			return models.Rate{}, err
		}
		if ok {
			return rate, nil
		}
	}

	rate, err := s.systemRate(ctx, transferType, currency)
	if stderrors.Is(err, pkgerrors.ErrRateNotFound) {
		slog.Warn("no commission rate configured, using system default",
			"transfer_type", transferType, "currency", currency,
			"default_kind", s.defaultRate.Kind, "default_value", s.defaultRate.Value.String())
		return s.defaultRate, nil
	}
	if err != nil {
		return models.Rate{}, err
	}
	return rate, nil
}

func (s *rateService) ResolveOfficeTier(ctx context.Context, currency string, corridor models.Corridor, amount decimal.Decimal) (models.Rate, bool, error) {
	tiers, err := s.rateRepo.ListOfficeTiers(ctx, corridor.OfficeID, currency)
	if err != nil {
		return models.Rate{}, false, err
	}
	tier, ok := bestTier(tiers, corridor, amount)
	if !ok {
		return models.Rate{}, false, nil
	}
	return models.Rate{Kind: tier.Kind, Value: tier.Value}, true, nil
}

func (s *rateService) systemRate(ctx context.Context, transferType, currency string) (models.Rate, error) {
	cacheKey := fmt.Sprintf("rate:%s:%s", transferType, currency)
	if cached, err := s.redisClient.Get(ctx, cacheKey); err == nil {
		var rate models.Rate
		if err := json.Unmarshal([]byte(cached), &rate); err == nil {
			return rate, nil
		}
		slog.Error("failed to unmarshal cached rate", "key", cacheKey)
	}

	rate, err := s.rateRepo.GetSystemRate(ctx, transferType, currency)
	if err != nil {
		return models.Rate{}, err
	}

	if rateJSON, err := json.Marshal(rate); err == nil {
		if err := s.redisClient.Set(ctx, cacheKey, string(rateJSON), rateCacheTTL); err != nil {
			slog.Error("failed to cache rate", "key", cacheKey, "error", err)
		}
	}
	return rate, nil
}

// bestTier picks the matching tier with the most specific city narrowing;
// ties go to the first tier whose bounds contain the amount (tiers arrive
// ordered by min_amount).
func bestTier(tiers []models.OfficeCommissionTier, c models.Corridor, amount decimal.Decimal) (models.OfficeCommissionTier, bool) {
	best := -1
	var picked models.OfficeCommissionTier
	for _, tier := range tiers {
		ok, specificity := tier.Matches(c, amount)
		if ok && specificity > best {
			best = specificity
			picked = tier
		}
	}
	return picked, best >= 0
}
