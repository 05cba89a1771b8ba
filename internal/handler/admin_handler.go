// internal/handler/admin_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AdminHandler serves operator endpoints: manual reconciliation and the
// journal of transfers that could not be matched automatically.
type AdminHandler struct {
	depositUsecase   *usecase.DepositUsecase
	reconcileUsecase *usecase.ReconcileUsecase
	logger           *zap.Logger
}

func NewAdminHandler(
	depositUsecase *usecase.DepositUsecase,
	reconcileUsecase *usecase.ReconcileUsecase,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		depositUsecase:   depositUsecase,
		reconcileUsecase: reconcileUsecase,
		logger:           logger,
	}
}

type reconciliationResponse struct {
	UserID                 string          `json:"user_id"`
	StoredBalance          decimal.Decimal `json:"stored_balance"`
	ComputedBalance        decimal.Decimal `json:"computed_balance"`
	ConfirmedDeposits      decimal.Decimal `json:"confirmed_deposits"`
	OutstandingWithdrawals decimal.Decimal `json:"outstanding_withdrawals"`
	Delta                  decimal.Decimal `json:"delta"`
	Corrected              bool            `json:"corrected"`
	CheckedAt              time.Time       `json:"checked_at"`
}

type flaggedTransferResponse struct {
	TxHash       string          `json:"tx_hash"`
	FromAddress  string          `json:"from_address"`
	Amount       decimal.Decimal `json:"amount"`
	BlockNumber  uint64          `json:"block_number"`
	Reason       string          `json:"reason"`
	CandidateIDs []string        `json:"candidate_ids,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reconcileUsecase.Recompute(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, h.logger, "failed to reconcile balance", err)
		return
	}
	response.JSON(w, http.StatusOK, reconciliationResponse{
		UserID:                 rec.UserID,
		StoredBalance:          rec.StoredBalance,
		ComputedBalance:        rec.ComputedBalance,
		ConfirmedDeposits:      rec.ConfirmedDeposits,
		OutstandingWithdrawals: rec.OutstandingWithdrawals,
		Delta:                  rec.Delta(),
		Corrected:              rec.Corrected,
		CheckedAt:              rec.CheckedAt,
	})
}

func (h *AdminHandler) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	flagged, err := h.depositUsecase.ListFlagged(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.logger, "failed to list unmatched transfers", err)
		return
	}
	out := make([]flaggedTransferResponse, 0, len(flagged))
	for _, t := range flagged {
		out = append(out, flaggedTransferResponse{
			TxHash:       t.TxHash,
			FromAddress:  t.FromAddress,
			Amount:       t.Amount,
			BlockNumber:  t.BlockNumber,
			Reason:       string(t.Reason),
			CandidateIDs: t.CandidateIDs,
			CreatedAt:    t.CreatedAt,
		})
	}
	response.JSON(w, http.StatusOK, out)
}
