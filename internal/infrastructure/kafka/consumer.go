package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
	"github.com/tahwil/tahwil-ledger/internal/repository"
)

// Consumer ingests trades settled by the external trading engine so the
// unified audit feed can surface them alongside transfers. It performs no
// balance mutations; trades are settled upstream.
type Consumer struct {
	reader    *kafka.Reader
	tradeRepo repository.MarketTradeRepository
}

func NewConsumer(brokers []string, topic, groupID string, tradeRepo repository.MarketTradeRepository) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		tradeRepo: tradeRepo,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))

		var event struct {
			UserID    int32  `json:"user_id"`
			Pair      string `json:"pair"`
			Side      string `json:"side"`
			Amount    string `json:"amount"`
			Currency  string `json:"currency"`
			Price     string `json:"price"`
			CreatedAt string `json:"created_at"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal trade event", "error", err)
			continue
		}

		amount, err := decimal.NewFromString(event.Amount)
		if err != nil {
			slog.Error("invalid trade amount", "value", event.Amount, "error", err)
			continue
		}
		price, err := decimal.NewFromString(event.Price)
		if err != nil {
			slog.Error("invalid trade price", "value", event.Price, "error", err)
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, event.CreatedAt)
		if err != nil {
			slog.Error("invalid created_at format", "value", event.CreatedAt, "error", err)
			continue
		}
		if event.Side != "buy" && event.Side != "sell" {
			slog.Error("invalid trade side", "side", event.Side)
			continue
		}

		trade := &models.MarketTrade{
			UserID:    event.UserID,
			Pair:      event.Pair,
			Side:      event.Side,
			Amount:    amount,
			Currency:  event.Currency,
			Price:     price,
			CreatedAt: createdAt,
		}

		tradeID, err := c.tradeRepo.Create(ctx, trade)
		if err != nil {
			slog.Error("failed to persist market trade", "user_id", event.UserID, "pair", event.Pair, "error", err)
			continue
		}

		slog.Info("market trade ingested", "trade_id", tradeID, "user_id", event.UserID, "pair", event.Pair, "side", event.Side)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
