// internal/server/router.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/handler"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SignerStatus is what the health endpoint needs from the withdrawal worker
type SignerStatus interface {
	Halted() bool
	Leader() bool
}

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Deposits    *handler.DepositHandler
	Withdrawals *handler.WithdrawalHandler
	Admin       *handler.AdminHandler
}

func NewRouter(h Handlers, signer SignerStatus, db Pinger) chi.Router {
	r := chi.NewRouter()

	// ---- Global Middleware ----
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", healthz(signer, db))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposits", h.Deposits.CreateIntent)
		r.Get("/deposits/{id}", h.Deposits.GetIntent)

		r.Post("/withdrawals", h.Withdrawals.Create)
		r.Get("/withdrawals/{id}", h.Withdrawals.Get)
		r.Post("/withdrawals/{id}/cancel", h.Withdrawals.Cancel)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/deposits", h.Deposits.ListByUser)
			r.Get("/withdrawals", h.Withdrawals.ListByUser)
			r.Get("/balance", h.Withdrawals.Balance)
		})

		// ============================================================
		// Operator endpoints, exposed on the internal network only
		// ============================================================
		r.Route("/admin", func(r chi.Router) {
			r.Post("/users/{userID}/reconcile", h.Admin.Reconcile)
			r.Get("/unmatched-transfers", h.Admin.ListUnmatched)
		})
	})

	return r
}

type healthStatus struct {
	Database     string `json:"database"`
	Signer       string `json:"signer"`
	SignerLeader bool   `json:"signer_leader"`
}

func healthz(signer SignerStatus, db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Database: "ok", Signer: "ok"}
		code := http.StatusOK

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status.Database = "unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		if signer != nil {
			status.SignerLeader = signer.Leader()
			if signer.Halted() {
				status.Signer = "halted"
				code = http.StatusServiceUnavailable
			}
		}

		if code != http.StatusOK {
			response.Degraded(w, code, "degraded", status)
			return
		}
		response.JSON(w, code, status)
	}
}
