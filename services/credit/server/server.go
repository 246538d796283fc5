package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rwacredit/core"
	"rwacredit/core/events"
	"rwacredit/core/types"
	"rwacredit/gateway/middleware"
)

// RepaymentHistory supplies the committed loan events of a position.
type RepaymentHistory interface {
	Repayments(ctx context.Context, positionID uint64) ([]*types.Event, error)
}

// Config wires the API server. Ledger and Auth are required.
type Config struct {
	Ledger        *core.Ledger
	Hub           *events.Hub
	Auth          *middleware.Authenticator
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	History       RepaymentHistory
	Logger        *slog.Logger
	// DistributionBatchSize bounds holders processed by one distribute call
	// when the request does not name a size.
	DistributionBatchSize int
}

// Server exposes the credit ledger over HTTP.
type Server struct {
	ledger    *core.Ledger
	hub       *events.Hub
	auth      *middleware.Authenticator
	limiter   *middleware.RateLimiter
	obs       *middleware.Observability
	cors      middleware.CORSConfig
	history   RepaymentHistory
	logger    *slog.Logger
	batchSize int
}

func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("server: ledger required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.DistributionBatchSize
	if batch <= 0 {
		batch = cfg.Ledger.Config().DistributionBatchSize
	}
	return &Server{
		ledger:    cfg.Ledger,
		hub:       cfg.Hub,
		auth:      cfg.Auth,
		limiter:   cfg.Limiter,
		obs:       cfg.Observability,
		cors:      cfg.CORS,
		history:   cfg.History,
		logger:    logger,
		batchSize: batch,
	}, nil
}

// Handler builds the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	if s.obs != nil {
		r.Use(s.obs.Middleware)
	}
	r.Use(middleware.CORS(s.cors))
	r.Use(limitBody)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit("public"))
			r.Get("/positions/{id}", s.handleGetPosition)
			r.Get("/positions/{id}/debt", s.handleGetDebt)
			r.Get("/positions/{id}/repayments", s.handleRepayments)
			r.Get("/pool", s.handleGetPool)
			r.Get("/settlements/{ref}", s.handleGetSettlement)
			r.Get("/settlements/{ref}/claims", s.handleExportClaims)
			r.Get("/settlements/{ref}/claims/{holder}", s.handleGetClaim)
			r.Get("/balances/{addr}/{asset}", s.handleGetBalance)
			r.Get("/events/stream", s.handleEventStream)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Require(middleware.ScopeInvestor), s.rateLimit("investor"))
			r.Post("/positions", s.handleOpenPosition)
			r.Post("/positions/{id}/borrow", s.handleBorrow)
			r.Post("/positions/{id}/repay", s.handleRepay)
			r.Post("/positions/{id}/withdraw", s.handleWithdraw)
			r.Post("/yield/claim", s.handleClaimYield)
			r.Post("/pool/fund", s.handleFundPool)
			r.Post("/pool/withdraw", s.handleWithdrawLiquidity)
			r.Post("/transfers", s.handleTransfer)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Require(middleware.ScopeAdmin), s.rateLimit("admin"))
			r.Post("/positions/{id}/missed", s.handleMarkMissed)
			r.Post("/positions/{id}/liquidate", s.handleLiquidate)
			r.Post("/positions/{id}/settle", s.handleSettle)
			r.Post("/positions/{id}/purchase", s.handlePurchase)
			r.Post("/settlements", s.handleRecordSettlement)
			r.Post("/settlements/{ref}/distribute", s.handleDistribute)
			r.Post("/allowlist", s.handleAllow)
			r.Delete("/allowlist/{addr}", s.handleRevoke)
			r.Post("/mint", s.handleMint)
			r.Post("/pauses/{module}", s.handleSetPause)
		})
	})
	return r
}

func (s *Server) rateLimit(group string) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.limiter.Middleware(group)
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller resolves the authenticated subject into a ledger address.
func caller(r *http.Request) (common.Address, error) {
	subject := strings.TrimSpace(middleware.Subject(r.Context()))
	if subject == "" {
		return common.Address{}, fmt.Errorf("%w: authenticated subject required", errBadRequest)
	}
	return parseAddress("subject", subject)
}
