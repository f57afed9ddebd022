package service

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/kafka"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/redis"
	"github.com/tahwil/tahwil-ledger/internal/models"
	"github.com/tahwil/tahwil-ledger/internal/repository"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	TransferTypeInternal      = "internal"
	TransferTypeCity          = "city"
	TransferTypeInternational = "international"
)

type InternalTransferRequest struct {
	RequestID  string
	SenderID   int32
	ReceiverID int32
	Currency   string
	Amount     decimal.Decimal
	Note       string
}

type CityTransferRequest struct {
	RequestID           string
	SenderOfficeID      int32
	DestinationOfficeID int32
	OriginCityID        int32
	DestinationCityID   int32
	Currency            string
	Amount              decimal.Decimal
}

type InternationalTransferRequest struct {
	RequestID        string
	SenderID         int32
	ReceiverOfficeID int32
	Currency         string
	Amount           decimal.Decimal
	ReceiverCode     string
	Channel          string
}

type SettlementService interface {
	CreateInternalTransfer(ctx context.Context, req InternalTransferRequest) (*models.InternalTransfer, error)
	CreateCityTransfer(ctx context.Context, req CityTransferRequest) (*models.CityTransfer, error)
	ConfirmCityTransfer(ctx context.Context, code string, officeID int32) (*models.CityTransfer, error)
	CreateInternationalTransfer(ctx context.Context, req InternationalTransferRequest) (*models.InternationalTransfer, error)
	ConfirmInternationalTransfer(ctx context.Context, code, receiverCode string, officeID int32) (*models.InternationalTransfer, error)
	CancelInternationalTransfer(ctx context.Context, code string, senderID int32) (*models.InternationalTransfer, error)
	GetInternationalTransfer(ctx context.Context, code string) (*models.InternationalTransfer, error)
	GetBalance(ctx context.Context, userID int32, currency string) (decimal.Decimal, error)
}

type settlementService struct {
	txManager     repository.TxManager
	balanceRepo   repository.BalanceRepository
	transferRepo  repository.TransferRepository
	txnRepo       repository.TransactionRepository
	adminTxnRepo  repository.AdminTransactionRepository
	userRepo      repository.UserRepository
	resolver      RateResolver
	escrow        *EscrowManager
	pool          *PoolService
	redisClient   redis.RedisClient
	kafkaProducer kafka.KafkaProducer
}

func NewSettlementService(
	txManager repository.TxManager,
	balanceRepo repository.BalanceRepository,
	transferRepo repository.TransferRepository,
	txnRepo repository.TransactionRepository,
	adminTxnRepo repository.AdminTransactionRepository,
	userRepo repository.UserRepository,
	resolver RateResolver,
	escrow *EscrowManager,
	pool *PoolService,
	redisClient redis.RedisClient,
	kafkaProducer kafka.KafkaProducer,
) *settlementService {
	return &settlementService{
		txManager:     txManager,
		balanceRepo:   balanceRepo,
		transferRepo:  transferRepo,
		txnRepo:       txnRepo,
		adminTxnRepo:  adminTxnRepo,
		userRepo:      userRepo,
		resolver:      resolver,
		escrow:        escrow,
		pool:          pool,
		redisClient:   redisClient,
		kafkaProducer: kafkaProducer,
	}
}

// guardRequest reserves an idempotency key for the request. The returned
// release func clears the key so a failed request can be resubmitted.
func (s *settlementService) guardRequest(ctx context.Context, requestID string) (func(), error) {
	if requestID == "" {
		return func() {}, nil
	}
	requestKey := fmt.Sprintf("request:%s", requestID)
	if _, err := s.redisClient.Get(ctx, requestKey); err == nil {
		slog.Error("request already processed", "request_id", requestID)
		return nil, pkgerrors.ErrRequestAlreadyProcessed
	}
	if err := s.redisClient.Set(ctx, requestKey, "pending", 24*time.Hour); err != nil {
		slog.Error("failed to set request key", "request_id", requestID, "error", err)
		return nil, err
	}
	// The release must still reach Redis when the caller's context has been
	// cancelled, or the key would block resubmission until it expires.
	releaseCtx := context.WithoutCancel(ctx)
	return func() {
		if err := s.redisClient.Del(releaseCtx, requestKey); err != nil {
			slog.Warn("failed to release request key", "request_id", requestID, "error", err)
		}
	}, nil
}

func (s *settlementService) CreateInternalTransfer(ctx context.Context, req InternalTransferRequest) (*models.InternalTransfer, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "CreateInternalTransfer")
	defer span.End()

	if !req.Amount.IsPositive() {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	}
	if req.Currency == "" {
		return nil, pkgerrors.ErrInvalidCurrency
	}

	sender, err := s.userRepo.GetByID(ctx, req.SenderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, req.ReceiverID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	release, err := s.guardRequest(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}

	rate, err := s.resolver.Resolve(ctx, TransferTypeInternal, req.Currency, nil, req.Amount)
	if err != nil {
		release()
		span.RecordError(err)
		return nil, err
	}
	commission := rate.Apply(req.Amount)

	transfer := &models.InternalTransfer{
		SenderID:        req.SenderID,
		ReceiverID:      req.ReceiverID,
		Currency:        req.Currency,
		Amount:          req.Amount,
		Commission:      commission,
		Note:            req.Note,
		ReferenceNumber: uuid.NewString(),
	}

	err = s.txManager.WithinTx(ctx, func(tx *sql.Tx) error {
		// The guarded debit is the insufficient-funds check: it runs before
		// any other write, so a rejection leaves every balance unchanged.
		if _, err := s.balanceRepo.AdjustBalance(ctx, tx, req.SenderID, req.Currency, req.Amount.Add(commission).Neg()); err != nil {
			return err
		}
		if _, err := s.balanceRepo.AdjustBalance(ctx, tx, req.ReceiverID, req.Currency, req.Amount); err != nil {
			return err
		}
		if _, err := s.transferRepo.CreateInternal(ctx, tx, transfer); err != nil {
			return err
		}
		if _, err := s.txnRepo.Create(ctx, tx, &models.Transaction{
			UserID:          req.SenderID,
			Type:            models.TypeTransferOut,
			Amount:          req.Amount.Add(commission).Neg(),
			Currency:        req.Currency,
			Description:     req.Note,
			ReferenceNumber: transfer.ReferenceNumber,
		}); err != nil {
			return err
		}
		if _, err := s.txnRepo.Create(ctx, tx, &models.Transaction{
			UserID:          req.ReceiverID,
			Type:            models.TypeTransferIn,
			Amount:          req.Amount,
			Currency:        req.Currency,
			Description:     req.Note,
			ReferenceNumber: transfer.ReferenceNumber,
		}); err != nil {
			return err
		}
		_, err := s.pool.CreditNet(ctx, tx, "internal_transfer", transfer.ID, req.Currency, commission,
			transfer.ID, "commission on internal transfer "+transfer.ReferenceNumber, TransferTypeInternal, sender.ReferrerID)
		return err
	})
	if err != nil {
		release()
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal transfer failed")
		return nil, err
	}

	s.emitTransferEvent(transfer.ID, map[string]interface{}{
		"event_type":  "internal_transfer_settled",
		"transfer_id": transfer.ID,
		"sender_id":   req.SenderID,
		"receiver_id": req.ReceiverID,
		"currency":    req.Currency,
		"amount":      req.Amount.String(),
		"commission":  commission.String(),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("internal transfer settled",
		"transfer_id", transfer.ID,
		"sender_id", req.SenderID,
		"receiver_id", req.ReceiverID,
		"amount", req.Amount.String(),
		"commission", commission.String())
	return transfer, nil
}

func (s *settlementService) CreateCityTransfer(ctx context.Context, req CityTransferRequest) (*models.CityTransfer, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "CreateCityTransfer")
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, pkgerrors.ErrInvalidAmount
	}
	// An unknown destination would strand the hold: nobody could ever
	// confirm the transfer.
	if _, err := s.userRepo.GetByID(ctx, req.DestinationOfficeID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	release, err := s.guardRequest(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}

	corridor := &models.Corridor{
		OfficeID:          req.SenderOfficeID,
		OriginCityID:      req.OriginCityID,
		DestinationCityID: req.DestinationCityID,
	}
	rate, err := s.resolver.Resolve(ctx, TransferTypeCity, req.Currency, corridor, req.Amount)
	if err != nil {
		release()
		return nil, err
	}
	commission := rate.Apply(req.Amount)

	code, err := s.escrow.GenerateTransferCode(ctx)
	if err != nil {
		release()
		return nil, err
	}

	transfer := &models.CityTransfer{
		SenderOfficeID:      req.SenderOfficeID,
		DestinationOfficeID: req.DestinationOfficeID,
		OriginCityID:        req.OriginCityID,
		DestinationCityID:   req.DestinationCityID,
		Currency:            req.Currency,
		Amount:              req.Amount,
		Commission:          commission,
		Code:                code,
		Status:              models.TransferPending,
	}

	err = s.txManager.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.balanceRepo.AdjustBalance(ctx, tx, req.SenderOfficeID, req.Currency, req.Amount.Add(commission).Neg()); err != nil {
			return err
		}
		if _, err := s.transferRepo.CreateCity(ctx, tx, transfer); err != nil {
			return err
		}
		_, err := s.pool.CreditNet(ctx, tx, "city_transfer", transfer.ID, req.Currency, commission,
			transfer.ID, "commission on city transfer "+code, TransferTypeCity, 0)
		return err
	})
	if err != nil {
		release()
		span.RecordError(err)
		span.SetStatus(codes.Error, "city transfer failed")
		return nil, err
	}

	slog.Info("city transfer created",
		"transfer_id", transfer.ID,
		"sender_office_id", req.SenderOfficeID,
		"destination_office_id", req.DestinationOfficeID,
		"amount", req.Amount.String())
	return transfer, nil
}

func (s *settlementService) ConfirmCityTransfer(ctx context.Context, code string, officeID int32) (*models.CityTransfer, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "ConfirmCityTransfer")
	defer span.End()

	var transfer *models.CityTransfer
	err := s.txManager.WithinTx(ctx, func(tx *sql.Tx) error {
		t, err := s.transferRepo.GetCityByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		if t.DestinationOfficeID != officeID {
			return pkgerrors.ErrTransferNotFound
		}
		if t.Status != models.TransferPending {
			return pkgerrors.NewInvalidState(string(models.TransferPending), string(t.Status))
		}

		completedAt := time.Now().UTC()
		if err := s.transferRepo.MarkCityCompleted(ctx, tx, t.ID, completedAt); err != nil {
			return err
		}
		if _, err := s.balanceRepo.AdjustBalance(ctx, tx, t.DestinationOfficeID, t.Currency, t.Amount); err != nil {
			return err
		}
		t.Status = models.TransferCompleted
		t.CompletedAt = &completedAt
		transfer = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	slog.Info("city transfer completed", "transfer_id", transfer.ID, "code", code, "office_id", officeID)
	return transfer, nil
}

func (s *settlementService) CreateInternationalTransfer(ctx context.Context, req InternationalTransferRequest) (*models.InternationalTransfer, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "CreateInternationalTransfer")
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, pkgerrors.ErrInvalidAmount
	}
	if _, err := s.userRepo.GetByID(ctx, req.SenderID); err != nil {
		return nil, err
	}

	release, err := s.guardRequest(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}

	costs, err := s.escrow.ComputeCosts(ctx, req.Amount, req.Currency, &models.Corridor{OfficeID: req.ReceiverOfficeID})
	if err != nil {
		release()
		return nil, err
	}

	code, err := s.escrow.GenerateTransferCode(ctx)
	if err != nil {
		release()
		return nil, err
	}

	receiverCodeHash := ""
	if req.ReceiverCode != "" {
		receiverCodeHash, err = HashReceiverCode(req.ReceiverCode)
		if err != nil {
			release()
			return nil, err
		}
	}

	transfer := &models.InternationalTransfer{
		SenderID:            req.SenderID,
		ReceiverOfficeID:    req.ReceiverOfficeID,
		Currency:            req.Currency,
		AmountOriginal:      req.Amount,
		CommissionSystem:    costs.CommissionSystem,
		CommissionRecipient: costs.CommissionRecipient,
		AmountPending:       costs.AmountPending,
		TransferCode:        code,
		ReceiverCodeHash:    receiverCodeHash,
		Status:              models.TransferPending,
	}

	err = s.txManager.WithinTx(ctx, func(tx *sql.Tx) error {
		// Escrow: the full sender debit is held until the receiving office
		// claims the funds or the sender cancels.
		if _, err := s.balanceRepo.AdjustBalance(ctx, tx, req.SenderID, req.Currency, transfer.SenderDebit().Neg()); err != nil {
			return err
		}
		if _, err := s.transferRepo.CreateInternational(ctx, tx, transfer); err != nil {
			return err
		}
		_, err := s.adminTxnRepo.Create(ctx, tx, &models.AdminTransaction{
			RefNo:        transfer.TransferCode,
			Type:         "international_transfer",
			Status:       models.AdminPending,
			Amount:       transfer.AmountOriginal,
			Currency:     transfer.Currency,
			NetAmount:    transfer.AmountPending,
			FeeSystem:    transfer.CommissionSystem,
			FeeRecipient: transfer.CommissionRecipient,
			Channel:      req.Channel,
			CreatedBy:    req.SenderID,
		})
		return err
	})
	if err != nil {
		release()
		span.RecordError(err)
		span.SetStatus(codes.Error, "international transfer failed")
		return nil, err
	}

	s.emitTransferEvent(transfer.ID, map[string]interface{}{
		"event_type":  "international_transfer_created",
		"transfer_id": transfer.ID,
		"sender_id":   req.SenderID,
		"currency":    req.Currency,
		"amount":      req.Amount.String(),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("international transfer created",
		"transfer_id", transfer.ID,
		"sender_id", req.SenderID,
		"amount_original", transfer.AmountOriginal.String(),
		"amount_pending", transfer.AmountPending.String())
	return transfer, nil
}

func (s *settlementService) ConfirmInternationalTransfer(ctx context.Context, code, receiverCode string, officeID int32) (*models.InternationalTransfer, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "ConfirmInternationalTransfer")
	defer span.End()

	var transfer *models.InternationalTransfer
	err := s.txManager.WithinTx(ctx, func(tx *sql.Tx) error {
		t, err := s.transferRepo.GetInternationalByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		if t.ReceiverOfficeID != officeID {
			return pkgerrors.ErrTransferNotFound
		}
		if t.Status != models.TransferPending {
			return pkgerrors.NewInvalidState(string(models.TransferPending), string(t.Status))
		}
		if t.ReceiverCodeHash != "" {
			if err := VerifyReceiverCode(t.ReceiverCodeHash, receiverCode); err != nil {
				return err
			}
		}

		completedAt := time.Now().UTC()
		if err := s.transferRepo.SetInternationalStatus(ctx, tx, t.ID, models.TransferCompleted, &completedAt); err != nil {
			return err
		}
		if _, err := s.balanceRepo.AdjustBalance(ctx, tx, t.ReceiverOfficeID, t.Currency, t.AmountPending); err != nil {
			return err
		}
		// The receiving office's commission is paid out directly, never
		// pooled.
		if t.CommissionRecipient.IsPositive() {
			if _, err := s.balanceRepo.AdjustBalance(ctx, tx, t.ReceiverOfficeID, t.Currency, t.CommissionRecipient); err != nil {
				return err
			}
			if _, err := s.txnRepo.Create(ctx, tx, &models.Transaction{
				UserID:          t.ReceiverOfficeID,
				Type:            models.TypeTransferIn,
				Amount:          t.CommissionRecipient,
				Currency:        t.Currency,
				Description:     "recipient commission on international transfer",
				ReferenceNumber: t.TransferCode,
			}); err != nil {
				return err
			}
		}

		sender, err := s.userRepo.GetByID(ctx, t.SenderID)
		if err != nil {
			return err
		}
		if _, err := s.pool.CreditNet(ctx, tx, "international_transfer", t.ID, t.Currency, t.SystemTake(),
			t.ID, "system commission on international transfer "+t.TransferCode, TransferTypeInternational, sender.ReferrerID); err != nil {
			return err
		}

		if err := s.adminTxnSetStatusByRef(ctx, tx, t.TransferCode, models.AdminSuccess); err != nil {
			return err
		}

		t.Status = models.TransferCompleted
		t.CompletedAt = &completedAt
		transfer = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.emitTransferEvent(transfer.ID, map[string]interface{}{
		"event_type":  "international_transfer_completed",
		"transfer_id": transfer.ID,
		"office_id":   officeID,
		"amount":      transfer.AmountPending.String(),
		"currency":    transfer.Currency,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("international transfer completed", "transfer_id", transfer.ID, "code", code, "office_id", officeID)
	return transfer, nil
}

func (s *settlementService) CancelInternationalTransfer(ctx context.Context, code string, senderID int32) (*models.InternationalTransfer, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "CancelInternationalTransfer")
	defer span.End()

	var transfer *models.InternationalTransfer
	err := s.txManager.WithinTx(ctx, func(tx *sql.Tx) error {
		t, err := s.transferRepo.GetInternationalByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		if t.SenderID != senderID {
			return pkgerrors.ErrTransferNotFound
		}
		if t.Status != models.TransferPending {
			return pkgerrors.NewInvalidState(string(models.TransferPending), string(t.Status))
		}

		if err := s.transferRepo.SetInternationalStatus(ctx, tx, t.ID, models.TransferCancelled, nil); err != nil {
			return err
		}
		// Exact reversal: the full hold goes back, no commission retained.
		refund := t.SenderDebit()
		if _, err := s.balanceRepo.AdjustBalance(ctx, tx, t.SenderID, t.Currency, refund); err != nil {
			return err
		}
		if _, err := s.txnRepo.Create(ctx, tx, &models.Transaction{
			UserID:          t.SenderID,
			Type:            models.TypeRefund,
			Amount:          refund,
			Currency:        t.Currency,
			Description:     "refund of cancelled international transfer",
			ReferenceNumber: t.TransferCode,
		}); err != nil {
			return err
		}
		if err := s.adminTxnSetStatusByRef(ctx, tx, t.TransferCode, models.AdminCancelled); err != nil {
			return err
		}

		t.Status = models.TransferCancelled
		transfer = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	slog.Info("international transfer cancelled", "transfer_id", transfer.ID, "code", code, "sender_id", senderID)
	return transfer, nil
}

func (s *settlementService) GetInternationalTransfer(ctx context.Context, code string) (*models.InternationalTransfer, error) {
	return s.transferRepo.GetInternationalByCode(ctx, code)
}

func (s *settlementService) GetBalance(ctx context.Context, userID int32, currency string) (decimal.Decimal, error) {
	balance, _, err := s.balanceRepo.GetBalance(ctx, userID, currency)
	return balance, err
}

// adminTxnSetStatusByRef keeps the admin transaction mirroring the transfer
// lifecycle. A missing mirror row is logged, not fatal: older transfers
// predate the admin table.
func (s *settlementService) adminTxnSetStatusByRef(ctx context.Context, tx *sql.Tx, refNo string, status models.AdminTxnStatus) error {
	err := s.adminTxnRepo.SetStatusByRefNo(ctx, tx, refNo, status)
	if stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
		slog.Warn("no admin transaction mirror for transfer", "ref_no", refNo)
		return nil
	}
	return err
}

func (s *settlementService) emitTransferEvent(transferID int32, event map[string]interface{}) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal transfer event", "transfer_id", transferID, "error", err)
		return
	}
	go func() {
		if err := s.kafkaProducer.Send(context.Background(), "transfers", int64(transferID), eventBytes); err != nil {
			slog.Error("failed to send transfer event", "transfer_id", transferID, "error", err)
		}
	}()
}
