// internal/handler/deposit_handler.go
package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/response"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DepositHandler struct {
	depositUsecase *usecase.DepositUsecase
	logger         *zap.Logger
}

func NewDepositHandler(depositUsecase *usecase.DepositUsecase, logger *zap.Logger) *DepositHandler {
	return &DepositHandler{
		depositUsecase: depositUsecase,
		logger:         logger,
	}
}

type createDepositRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type depositResponse struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	UniqueAmount  decimal.Decimal `json:"unique_amount"`
	Address       string          `json:"address"`
	Status        string          `json:"status"`
	TxHash        *string         `json:"tx_hash,omitempty"`
	FromAddress   *string         `json:"from_address,omitempty"`
	BlockNumber   *uint64         `json:"block_number,omitempty"`
	Confirmations int             `json:"confirmations"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	MatchedAt     *time.Time      `json:"matched_at,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	ExpiredAt     *time.Time      `json:"expired_at,omitempty"`
}

func toDepositResponse(d *domain.DepositIntent) depositResponse {
	return depositResponse{
		ID:            d.ID,
		UserID:        d.UserID,
		BaseAmount:    d.BaseAmount,
		UniqueAmount:  d.UniqueAmount,
		Address:       d.Address,
		Status:        string(d.Status),
		TxHash:        d.TxHash,
		FromAddress:   d.FromAddress,
		BlockNumber:   d.BlockNumber,
		Confirmations: d.Confirmations,
		CreatedAt:     d.CreatedAt,
		ExpiresAt:     d.ExpiresAt,
		MatchedAt:     d.MatchedAt,
		ConfirmedAt:   d.ConfirmedAt,
		ExpiredAt:     d.ExpiredAt,
	}
}

// CreateIntent registers a deposit intent and returns the exact amount to send
func (h *DepositHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var in createDepositRequest
	if err := decodeJSON(r, &in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		response.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	amt, err := utils.ParseAmount(in.Amount)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := h.depositUsecase.CreateIntent(r.Context(), in.UserID, amt)
	if err != nil {
		writeError(w, h.logger, "failed to create deposit intent", err)
		return
	}
	response.Message(w, http.StatusCreated,
		"send exactly unique_amount to address before expires_at",
		toDepositResponse(intent))
}

func (h *DepositHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.depositUsecase.GetIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "failed to get deposit intent", err)
		return
	}
	response.JSON(w, http.StatusOK, toDepositResponse(intent))
}

func (h *DepositHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	intents, err := h.depositUsecase.ListIntents(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		writeError(w, h.logger, "failed to list deposit intents", err)
		return
	}
	out := make([]depositResponse, 0, len(intents))
	for _, d := range intents {
		out = append(out, toDepositResponse(d))
	}
	response.JSON(w, http.StatusOK, out)
}
