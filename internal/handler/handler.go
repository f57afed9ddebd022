package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
	"github.com/tahwil/tahwil-ledger/internal/repository"
	service "github.com/tahwil/tahwil-ledger/internal/services"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
)

type Handler struct {
	settlement   service.SettlementService
	escrow       *service.EscrowManager
	pool         *service.PoolService
	adminTxnRepo repository.AdminTransactionRepository
	unifiedRepo  repository.UnifiedRepository
	txnRepo      repository.TransactionRepository
}

func NewHandler(
	settlement service.SettlementService,
	escrow *service.EscrowManager,
	pool *service.PoolService,
	adminTxnRepo repository.AdminTransactionRepository,
	unifiedRepo repository.UnifiedRepository,
	txnRepo repository.TransactionRepository,
) *Handler {
	return &Handler{
		settlement:   settlement,
		escrow:       escrow,
		pool:         pool,
		adminTxnRepo: adminTxnRepo,
		unifiedRepo:  unifiedRepo,
		txnRepo:      txnRepo,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// writeServiceError maps the error taxonomy to HTTP statuses. Insufficient
// funds and invalid state surface precise messages; persistence failures get
// a generic one with the detail logged server-side.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrInsufficientFunds), errors.Is(err, pkgerrors.ErrInsufficientPool),
		errors.Is(err, pkgerrors.ErrInvalidAmount), errors.Is(err, pkgerrors.ErrInvalidCurrency):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrInvalidState), errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, pkgerrors.ErrTransferNotFound), errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, pkgerrors.ErrInvalidReceiverCode):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, pkgerrors.ErrPersistence):
		slog.Error("persistence failure", "error", err)
		h.writeError(w, http.StatusInternalServerError, errors.New("temporary failure, please try again"))
	default:
		slog.Error("unexpected error", "error", err)
		h.writeError(w, http.StatusInternalServerError, errors.New("temporary failure, please try again"))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func callerID(r *http.Request) (int32, bool) {
	id, ok := r.Context().Value("user_id").(int32)
	return id, ok
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/transfers/internal", h.CreateInternalTransfer).Methods("POST")
	r.HandleFunc("/transfers/city", h.CreateCityTransfer).Methods("POST")
	r.HandleFunc("/transfers/city/confirm", h.ConfirmCityTransfer).Methods("POST")
	r.HandleFunc("/transfers/international", h.CreateInternationalTransfer).Methods("POST")
	r.HandleFunc("/transfers/international/preview", h.PreviewInternationalTransfer).Methods("POST")
	r.HandleFunc("/transfers/international/confirm", h.ConfirmInternationalTransfer).Methods("POST")
	r.HandleFunc("/transfers/international/cancel", h.CancelInternationalTransfer).Methods("POST")
	r.HandleFunc("/transfers/international/{code}", h.GetInternationalTransfer).Methods("GET")
	r.HandleFunc("/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/pool/balance", h.GetPoolBalances).Methods("GET")
	r.HandleFunc("/pool/history", h.GetPoolHistory).Methods("GET")
	r.HandleFunc("/pool/withdraw", h.WithdrawFromPool).Methods("POST")
	r.HandleFunc("/admin/transactions", h.ListAdminTransactions).Methods("GET")
	r.HandleFunc("/admin/transactions/duplicates", h.FindDuplicates).Methods("GET")
	r.HandleFunc("/admin/transactions/stats", h.GetStats).Methods("GET")
	r.HandleFunc("/admin/transactions/{id:[0-9]+}", h.GetAdminTransaction).Methods("GET")
	r.HandleFunc("/admin/transactions/{id:[0-9]+}", h.UpdateAdminTransaction).Methods("PATCH")
	r.HandleFunc("/admin/feed", h.GetUnifiedFeed).Methods("GET")
}

func (h *Handler) CreateInternalTransfer(w http.ResponseWriter, r *http.Request) {
	senderID, ok := callerID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		RequestID  string          `json:"request_id"`
		ReceiverID int32           `json:"receiver_id"`
		Currency   string          `json:"currency"`
		Amount     decimal.Decimal `json:"amount"`
		Note       string          `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	transfer, err := h.settlement.CreateInternalTransfer(r.Context(), service.InternalTransferRequest{
		RequestID:  req.RequestID,
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Currency:   req.Currency,
		Amount:     req.Amount,
		Note:       req.Note,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, transfer)
}

func (h *Handler) CreateCityTransfer(w http.ResponseWriter, r *http.Request) {
	officeID, ok := callerID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		RequestID           string          `json:"request_id"`
		DestinationOfficeID int32           `json:"destination_office_id"`
		OriginCityID        int32           `json:"origin_city_id"`
		DestinationCityID   int32           `json:"destination_city_id"`
		Currency            string          `json:"currency"`
		Amount              decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	transfer, err := h.settlement.CreateCityTransfer(r.Context(), service.CityTransferRequest{
		RequestID:           req.RequestID,
		SenderOfficeID:      officeID,
		DestinationOfficeID: req.DestinationOfficeID,
		OriginCityID:        req.OriginCityID,
		DestinationCityID:   req.DestinationCityID,
		Currency:            req.Currency,
		Amount:              req.Amount,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, transfer)
}

func (h *Handler) ConfirmCityTransfer(w http.ResponseWriter, r *http.Request) {
	officeID, ok := callerID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	transfer, err := h.settlement.ConfirmCityTransfer(r.Context(), req.Code, officeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

func (h *Handler) CreateInternationalTransfer(w http.ResponseWriter, r *http.Request) {
	senderID, ok := callerID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		RequestID        string          `json:"request_id"`
		ReceiverOfficeID int32           `json:"receiver_office_id"`
		Currency         string          `json:"currency"`
		Amount           decimal.Decimal `json:"amount"`
		ReceiverCode     string          `json:"receiver_code"`
		Channel          string          `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	transfer, err := h.settlement.CreateInternationalTransfer(r.Context(), service.InternationalTransferRequest{
		RequestID:        req.RequestID,
		SenderID:         senderID,
		ReceiverOfficeID: req.ReceiverOfficeID,
		Currency:         req.Currency,
		Amount:           req.Amount,
		ReceiverCode:     req.ReceiverCode,
		Channel:          req.Channel,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, transfer)
}

func (h *Handler) PreviewInternationalTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverOfficeID int32           `json:"receiver_office_id"`
		Currency         string          `json:"currency"`
		Amount           decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	costs, err := h.escrow.ComputeCosts(r.Context(), req.Amount, req.Currency, &models.Corridor{OfficeID: req.ReceiverOfficeID})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, costs)
}

func (h *Handler) ConfirmInternationalTransfer(w http.ResponseWriter, r *http.Request) {
	officeID, ok := callerID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		Code         string `json:"code"`
		ReceiverCode string `json:"receiver_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	transfer, err := h.settlement.ConfirmInternationalTransfer(r.Context(), req.Code, req.ReceiverCode, officeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

func (h *Handler) CancelInternationalTransfer(w http.ResponseWriter, r *http.Request) {
	senderID, ok := callerID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	transfer, err := h.settlement.CancelInternationalTransfer(r.Context(), req.Code, senderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

func (h *Handler) GetInternationalTransfer(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	transfer, err := h.settlement.GetInternationalTransfer(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	currency := r.URL.Query().Get("currency")
	if currency == "" {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidCurrency)
		return
	}

	balance, err := h.settlement.GetBalance(r.Context(), userID, currency)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"currency": currency, "balance": balance.String()})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	history, err := h.txnRepo.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetPoolBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.pool.Balances(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make(map[string]string, len(balances))
	for currency, balance := range balances {
		out[currency] = balance.String()
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPoolHistory(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidCurrency)
		return
	}
	entries, err := h.pool.History(r.Context(), currency, parseIntQuery(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) WithdrawFromPool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency    string          `json:"currency"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.pool.Withdraw(r.Context(), req.Currency, req.Amount, req.Description); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (h *Handler) ListAdminTransactions(w http.ResponseWriter, r *http.Request) {
	f := models.AdminTxnFilter{
		Type:     r.URL.Query().Get("type"),
		Status:   models.AdminTxnStatus(r.URL.Query().Get("status")),
		Currency: r.URL.Query().Get("currency"),
		Search:   r.URL.Query().Get("search"),
		RefNo:    r.URL.Query().Get("ref_no"),
		Channel:  r.URL.Query().Get("channel"),
		Flag:     r.URL.Query().Get("flag"),
		Limit:    parseIntQuery(r, "limit", 50),
		Offset:   parseIntQuery(r, "offset", 0),
	}
	f.From, f.To = parseDateRange(r)
	f.CreatedBy = int32(parseIntQuery(r, "created_by", 0))
	f.KYCLevel = int32(parseIntQuery(r, "kyc_level", 0))
	f.RiskScoreMin = int32(parseIntQuery(r, "risk_score_min", 0))
	f.RiskScoreMax = int32(parseIntQuery(r, "risk_score_max", 0))
	if raw := r.URL.Query().Get("amount_min"); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil {
			f.AmountMin = v
		}
	}
	if raw := r.URL.Query().Get("amount_max"); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil {
			f.AmountMax = v
		}
	}

	rows, summary, count, err := h.adminTxnRepo.List(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"rows":    rows,
		"summary": summary,
		"pagination": map[string]any{
			"total":  count,
			"limit":  f.Limit,
			"offset": f.Offset,
		},
	})
}

func (h *Handler) GetAdminTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	txn, err := h.adminTxnRepo.GetByID(r.Context(), int32(id))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) UpdateAdminTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Status *models.AdminTxnStatus `json:"status"`
		Notes  *string                `json:"notes"`
		Flags  []string               `json:"flags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	txn, err := h.adminTxnRepo.Update(r.Context(), int32(id), models.AdminTxnUpdate{
		Status: req.Status,
		Notes:  req.Notes,
		Flags:  req.Flags,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) FindDuplicates(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(parseIntQuery(r, "window_seconds", 3600)) * time.Second
	groups, err := h.adminTxnRepo.FindDuplicates(r.Context(), window)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	switch r.URL.Query().Get("window") {
	case "week":
		since = time.Now().AddDate(0, 0, -7)
	case "month":
		since = time.Now().AddDate(0, -1, 0)
	default:
		since = time.Now().AddDate(0, 0, -1)
	}

	stats, err := h.adminTxnRepo.Stats(r.Context(), since)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetUnifiedFeed(w http.ResponseWriter, r *http.Request) {
	f := models.UnifiedFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  parseIntQuery(r, "limit", 50),
		Offset: parseIntQuery(r, "offset", 0),
	}
	f.From, f.To = parseDateRange(r)

	rows, count, err := h.unifiedRepo.Feed(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"rows": rows,
		"pagination": map[string]any{
			"total":  count,
			"limit":  f.Limit,
			"offset": f.Offset,
		},
	})
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseDateRange(r *http.Request) (time.Time, time.Time) {
	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t
		}
	}
	return from, to
}
