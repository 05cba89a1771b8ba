// internal/handler/withdrawal_handler.go
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

type WithdrawalHandler struct {
	withdrawalUsecase *usecase.WithdrawalUsecase
	logger            *zap.Logger
}

func NewWithdrawalHandler(withdrawalUsecase *usecase.WithdrawalUsecase, logger *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawalUsecase: withdrawalUsecase,
		logger:            logger,
	}
}

type createWithdrawalRequest struct {
	UserID    string `json:"user_id"`
	ToAddress string `json:"to_address"`
	Amount    string `json:"amount"`
}

type withdrawalResponse struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ToAddress   string          `json:"to_address"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	TxHash      *string         `json:"tx_hash,omitempty"`
	ErrorReason *string         `json:"error_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	SentAt      *time.Time      `json:"sent_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
	RefundedAt  *time.Time      `json:"refunded_at,omitempty"`
}

type balanceResponse struct {
	UserID             string          `json:"user_id"`
	Balance            decimal.Decimal `json:"balance"`
	BalanceCorrectedAt *time.Time      `json:"balance_corrected_at,omitempty"`
}

func toWithdrawalResponse(wr *domain.WithdrawalRequest) withdrawalResponse {
	return withdrawalResponse{
		ID:          wr.ID,
		UserID:      wr.UserID,
		ToAddress:   wr.ToAddress,
		Amount:      wr.Amount,
		Status:      string(wr.Status),
		TxHash:      wr.TxHash,
		ErrorReason: wr.ErrorReason,
		CreatedAt:   wr.CreatedAt,
		SentAt:      wr.SentAt,
		FailedAt:    wr.FailedAt,
		RefundedAt:  wr.RefundedAt,
	}
}

// Create debits the user and queues a payout
func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in createWithdrawalRequest
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

	wr, err := h.withdrawalUsecase.Create(r.Context(), in.UserID, strings.TrimSpace(in.ToAddress), amt)
	if err != nil {
		writeError(w, h.logger, "failed to create withdrawal", err)
		return
	}
	response.JSON(w, http.StatusAccepted, toWithdrawalResponse(wr))
}

func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	wr, err := h.withdrawalUsecase.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "failed to get withdrawal", err)
		return
	}
	response.JSON(w, http.StatusOK, toWithdrawalResponse(wr))
}

func (h *WithdrawalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	wr, err := h.withdrawalUsecase.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "failed to cancel withdrawal", err)
		return
	}
	response.Message(w, http.StatusOK, "withdrawal cancelled and refunded", toWithdrawalResponse(wr))
}

func (h *WithdrawalHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, err := h.withdrawalUsecase.ListByUser(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		writeError(w, h.logger, "failed to list withdrawals", err)
		return
	}
	out := make([]withdrawalResponse, 0, len(list))
	for _, wr := range list {
		out = append(out, toWithdrawalResponse(wr))
	}
	response.JSON(w, http.StatusOK, out)
}

func (h *WithdrawalHandler) Balance(w http.ResponseWriter, r *http.Request) {
	u, err := h.withdrawalUsecase.Balance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, h.logger, "failed to get balance", err)
		return
	}
	response.JSON(w, http.StatusOK, balanceResponse{
		UserID:             u.ID,
		Balance:            u.Balance,
		BalanceCorrectedAt: u.BalanceCorrectedAt,
	})
}
