package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phusd/core/types"
	"phusd/native/common"
	"phusd/native/phlimbo"
	"phusd/native/yield"
	"phusd/observability"
	"phusd/observability/metrics"
	"phusd/state"
)

// Server exposes the accumulator and staking engines over HTTP. Privileged
// endpoints require the configured bearer token; everything else is public
// behind the per-client rate limiter.
type Server struct {
	accumulator *yield.Accumulator
	engine      *phlimbo.Engine
	ledger      *state.Manager
	logger      *slog.Logger
	limiter     *RateLimiter
	authToken   string
}

// Config wires the server's collaborators.
type Config struct {
	Accumulator *yield.Accumulator
	Engine      *phlimbo.Engine
	Ledger      *state.Manager
	Logger      *slog.Logger
	RateLimit   RateLimitConfig
	// AuthToken guards privileged endpoints; falls back to PHUSD_RPC_TOKEN.
	AuthToken string
}

// NewServer builds the HTTP boundary around the ledger engines.
func NewServer(cfg Config) *Server {
	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("PHUSD_RPC_TOKEN"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		accumulator: cfg.Accumulator,
		engine:      cfg.Engine,
		ledger:      cfg.Ledger,
		logger:      logger,
		limiter:     NewRateLimiter(cfg.RateLimit),
		authToken:   token,
	}
	if srv.accumulator != nil {
		metrics.Yield().SetStrategies(srv.accumulator.StrategyCount())
	}
	return srv
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		if s.limiter != nil {
			v1.Use(s.limiter.Middleware("rpc"))
		}
		v1.Use(instrument)

		v1.Route("/phlimbo", func(pr chi.Router) {
			pr.Post("/approve", s.handleApprove)
			pr.Post("/stake", s.handleStake)
			pr.Post("/unstake", s.handleUnstake)
			pr.Post("/claim", s.handlePhlimboClaim)
			pr.Get("/rates", s.handleRates)
			pr.Get("/staked/{address}", s.handleStaked)
			pr.Get("/pending/{address}", s.handlePending)
			pr.Get("/allowance/{address}", s.handleAllowance)
		})

		v1.Route("/yield", func(yr chi.Router) {
			yr.Post("/claim", s.handleYieldClaim)
			yr.Get("/total", s.handleTotalYield)
			yr.Get("/claimable", s.handleClaimable)
			yr.Get("/discount", s.handleDiscount)
			yr.Get("/strategy/{address}", s.handleStrategyYield)
		})

		v1.Route("/admin", func(ar chi.Router) {
			ar.Use(s.requireAuth)
			ar.Post("/discount", s.handleSetDiscount)
			ar.Post("/token", s.handleSetTokenConfig)
			ar.Post("/token/pause", s.handlePauseToken)
			ar.Post("/token/unpause", s.handleUnpauseToken)
			ar.Post("/emissions", s.handleSetEmissions)
			ar.Post("/strategy/fund", s.handleFundStrategy)
			ar.Post("/pause", s.handlePauseModule)
			ar.Post("/unpause", s.handleUnpauseModule)
		})

		v1.Get("/dashboard/{address}", s.handleDashboard)
	})

	return r
}

// instrument records request counts and latency per route.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		observability.ModuleMetrics().Observe("rpc", r.Method+" "+route, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			writeError(w, http.StatusUnauthorized, errors.New("rpc: authentication token not configured"))
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) != s.authToken {
			writeError(w, http.StatusUnauthorized, errors.New("rpc: invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps engine sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, yield.ErrUnauthorized), errors.Is(err, phlimbo.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, yield.ErrStrategyUnknown), errors.Is(err, yield.ErrTokenNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, yield.ErrStrategyExists),
		errors.Is(err, yield.ErrOutstandingYield),
		errors.Is(err, yield.ErrTokenPaused),
		errors.Is(err, yield.ErrTokenNotPaused),
		errors.Is(err, yield.ErrNoYield),
		errors.Is(err, yield.ErrAlreadyPaused),
		errors.Is(err, yield.ErrNotPaused),
		errors.Is(err, phlimbo.ErrAlreadyPaused),
		errors.Is(err, phlimbo.ErrNotPaused),
		errors.Is(err, phlimbo.ErrNothingPending):
		return http.StatusConflict
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, phlimbo.ErrInsufficientBalance),
		errors.Is(err, phlimbo.ErrInsufficientStake),
		errors.Is(err, phlimbo.ErrInsufficientAllowance),
		errors.Is(err, yield.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseRate(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Approve(owner, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.handleStakeChange(w, r, s.engine.Stake, func() { metrics.Phlimbo().ObserveStake() })
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	s.handleStakeChange(w, r, s.engine.Unstake, func() { metrics.Phlimbo().ObserveUnstake() })
}

func (s *Server) handleStakeChange(w http.ResponseWriter, r *http.Request, op func([20]byte, *big.Int) error, observe func()) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := op(addr, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	observe()
	if total, totalErr := s.engine.TotalStaked(); totalErr == nil {
		metrics.Phlimbo().SetTotalStaked(total)
	}
	staked, err := s.engine.StakedAmount(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatBig(staked)})
}

func (s *Server) handlePhlimboClaim(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	paid, err := s.engine.Claim(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.Phlimbo().ObserveRewards(paid.Phusd, paid.Stable)
	writeJSON(w, http.StatusOK, rewardsResponse{
		Phusd:  formatBig(paid.Phusd),
		Stable: formatBig(paid.Stable),
	})
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	phusdRate, stableRate, err := s.engine.RewardRates()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratesResponse{
		PhusdPerSecond:  formatBig(phusdRate),
		StablePerSecond: formatBig(stableRate),
	})
}

func (s *Server) handleStaked(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	staked, err := s.engine.StakedAmount(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatBig(staked)})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	phusdPending, err := s.engine.PendingPhusd(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stablePending, err := s.engine.PendingStable(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardsResponse{
		Phusd:  formatBig(phusdPending),
		Stable: formatBig(stablePending),
	})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	allowance, err := s.engine.StakeAllowance(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatBig(allowance)})
}

func (s *Server) handleYieldClaim(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claimer, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.accumulator.Claim(claimer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.Yield().ObserveClaim(result.Paid)
	writeJSON(w, http.StatusOK, claimResponse{
		Paid:       formatBig(result.Paid),
		TotalYield: formatBig(result.TotalYield),
		Strategies: result.StrategyCount,
	})
}

func (s *Server) handleTotalYield(w http.ResponseWriter, r *http.Request) {
	total, err := s.accumulator.GetTotalYield()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.Yield().SetTotalYield(total)
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatBig(total)})
}

func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	claimable, err := s.accumulator.CalculateClaimAmount()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatBig(claimable)})
}

func (s *Server) handleDiscount(w http.ResponseWriter, r *http.Request) {
	rate, err := s.accumulator.DiscountRate()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatBig(rate)})
}

func (s *Server) handleStrategyYield(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pending, err := s.accumulator.GetYield(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: formatBig(pending)})
}

func (s *Server) handleSetDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := parseRate(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.accumulator.SetDiscountRate(caller, rate); err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.Yield().SetDiscountRate(rate)
	writeJSON(w, http.StatusOK, amountResponse{Amount: rate.String()})
}

func (s *Server) handleSetTokenConfig(w http.ResponseWriter, r *http.Request) {
	var req tokenConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	exchangeRate, err := parseAmount(req.ExchangeRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.accumulator.SetTokenConfig(caller, req.Token, req.Decimals, exchangeRate); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": yield.NormalizeToken(req.Token)})
}

func (s *Server) handlePauseToken(w http.ResponseWriter, r *http.Request) {
	s.handleTokenPause(w, r, s.accumulator.PauseToken)
}

func (s *Server) handleUnpauseToken(w http.ResponseWriter, r *http.Request) {
	s.handleTokenPause(w, r, s.accumulator.UnpauseToken)
}

func (s *Server) handleTokenPause(w http.ResponseWriter, r *http.Request, op func([20]byte, string) error) {
	var req tokenPauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := op(caller, req.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": yield.NormalizeToken(req.Token)})
}

func (s *Server) handleSetEmissions(w http.ResponseWriter, r *http.Request) {
	var req emissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	phusdRate, err := parseRate(req.PhusdPerSecond)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stableRate, err := parseRate(req.StablePerSecond)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetEmissionRates(caller, phusdRate, stableRate); err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.Phlimbo().SetEmissionRates(phusdRate, stableRate)
	writeJSON(w, http.StatusOK, ratesResponse{
		PhusdPerSecond:  phusdRate.String(),
		StablePerSecond: stableRate.String(),
	})
}

// handleFundStrategy routes stable tokens from a funder account into a
// registered strategy, crediting the module's principal position.
func (s *Server) handleFundStrategy(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	funder, err := parseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	strategy, err := parseAddress(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.accumulator.FundStrategy(caller, funder, strategy, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

func (s *Server) handlePauseModule(w http.ResponseWriter, r *http.Request) {
	s.handleModulePause(w, r, true)
}

func (s *Server) handleUnpauseModule(w http.ResponseWriter, r *http.Request) {
	s.handleModulePause(w, r, false)
}

func (s *Server) handleModulePause(w http.ResponseWriter, r *http.Request, paused bool) {
	var req modulePauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	switch module {
	case yield.ModuleName:
		if paused {
			err = s.accumulator.Pause(caller)
		} else {
			err = s.accumulator.Unpause(caller)
		}
	case phlimbo.ModuleName:
		if paused {
			err = s.engine.Pause(caller)
		} else {
			err = s.engine.Unpause(caller)
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("rpc: unknown module %q", req.Module))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": paused})
}

// handleDashboard composes one wallet view: balances, stake position,
// allowance, pending rewards for both streams and the emission rates.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	addr, err := parseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := s.ledger.GetAccount(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if account == nil {
		account = &types.Account{}
		account.EnsureDefaults()
	}
	staked, err := s.engine.StakedAmount(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	allowance, err := s.engine.StakeAllowance(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pendingPhusd, err := s.engine.PendingPhusd(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pendingStable, err := s.engine.PendingStable(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	phusdRate, stableRate, err := s.engine.RewardRates()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Address:         strings.TrimSpace(raw),
		BalancePHAME:    formatBig(account.BalancePHAME),
		BalancePHUSD:    formatBig(account.BalancePHUSD),
		BalanceUSDS:     formatBig(account.BalanceUSDS),
		StakedAmount:    formatBig(staked),
		StakeAllowance:  formatBig(allowance),
		PendingPhusd:    formatBig(pendingPhusd),
		PendingStable:   formatBig(pendingStable),
		PhusdPerSecond:  formatBig(phusdRate),
		StablePerSecond: formatBig(stableRate),
	})
}
