package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/uhyunpark/orionex/pkg/app/core/ledger"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/app/exchange"
	"github.com/uhyunpark/orionex/pkg/app/token"
	"github.com/uhyunpark/orionex/pkg/host"
	"go.uber.org/zap"
)

// CallerHeader carries the address an invocation runs as. The devnet host
// has no transaction envelope, so the API trusts it.
const CallerHeader = "X-Caller"

// Config holds the server's deployment details
type Config struct {
	Exchange    common.Address
	ChainID     *big.Int
	CORSOrigins []string
	Faucet      bool                // expose POST /faucet
	Gatherer    prometheus.Gatherer // nil disables /metrics
	Hub         *Hub                // event hub already wired into the host; nil creates one
}

// Server exposes the exchange entry points over REST and streams committed
// events over WebSocket
type Server struct {
	host     *host.Host
	exchange *exchange.Exchange
	cfg      Config
	tokens   map[common.Address]*token.Token
	router   *mux.Router
	hub      *Hub
	log      *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(h *host.Host, x *exchange.Exchange, cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1)
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		host:     h,
		exchange: x,
		cfg:      cfg,
		tokens:   make(map[common.Address]*token.Token),
		router:   mux.NewRouter(),
		hub:      hub,
		log:      log,
	}

	s.setupRoutes()
	return s
}

// RegisterToken exposes a deployed token contract under /tokens/{address}.
// Call before serving.
func (s *Server) RegisterToken(addr common.Address, t *token.Token) {
	s.tokens[addr] = t
}

// Hub returns the event hub
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	// Ledger views
	api.HandleFunc("/balances/{user}", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/balances/{user}/{asset}", s.handleGetBalance).Methods("GET")

	// Order views
	api.HandleFunc("/orders/{hash:0x[0-9a-fA-F]{64}}/status", s.handleGetOrderStatus).Methods("GET")
	api.HandleFunc("/orders/{hash:0x[0-9a-fA-F]{64}}/cancelled", s.handleIsOrderCancelled).Methods("GET")
	api.HandleFunc("/orders/trades", s.handleGetOrderTrades).Methods("POST")
	api.HandleFunc("/orders/filled", s.handleGetFilledAmounts).Methods("POST")
	api.HandleFunc("/orders/validate", s.handleValidateOrder).Methods("POST")

	// Exchange entry points
	api.HandleFunc("/orders/fill", s.handleFillOrders).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/deposits/native", s.handleDepositNative).Methods("POST")
	api.HandleFunc("/deposits", s.handleDepositAsset).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	// External transfers
	api.HandleFunc("/transfers", s.handleGetTransfers).Methods("GET")
	api.HandleFunc("/transfers/{id:[0-9]+}/settle", s.handleSettleTransfer).Methods("POST")

	// Token contracts
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{user}", s.handleGetTokenBalance).Methods("GET")
	api.HandleFunc("/tokens/{token}/{op:approve|transfer|mint|ownership}", s.handleTokenCall).Methods("POST")

	// Native coin
	api.HandleFunc("/native/{user}", s.handleGetNativeBalance).Methods("GET")
	if s.cfg.Faucet {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.cfg.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", CallerHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves the API until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	// Start WebSocket hub
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api server: %w", err)
		}
		s.log.Infow("api_server_stopped", "addr", addr)
		return nil
	}
}

// ==============================
// Helper Functions
// ==============================

// invoke runs fn as a committed invocation on behalf of the request's caller
func (s *Server) invoke(w http.ResponseWriter, r *http.Request, entry string, contract common.Address, payment *big.Int, fn func(*host.Invocation) error) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	if err := s.host.Invoke(entry, contract, caller, payment, fn); err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, TxResponse{Status: "committed", Entry: entry, Height: s.host.Height()})
}

// view runs fn against the current state of contract
func (s *Server) view(w http.ResponseWriter, contract common.Address, fn func(*host.Invocation) error) bool {
	if err := s.host.View(contract, fn); err != nil {
		s.respondFailure(w, err)
		return false
	}
	return true
}

func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	status, title := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("api_request_failed", "err", err)
	}
	respondError(w, status, title, err.Error())
}

// errorStatus maps contract errors to HTTP statuses
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, exchange.ErrNotOwner), errors.Is(err, token.ErrNotOwner):
		return http.StatusForbidden, "not owner"
	case errors.Is(err, order.ErrOrderExpired):
		return http.StatusBadRequest, "order expired"
	case errors.Is(err, order.ErrInvalidOrder), errors.Is(err, order.ErrEncoding):
		return http.StatusBadRequest, "invalid order"
	case errors.Is(err, exchange.ErrInvalidAmount), errors.Is(err, exchange.ErrNativeAsset):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, exchange.ErrAlreadyCancelled), errors.Is(err, exchange.ErrFillExceedsOrder):
		return http.StatusConflict, "order conflict"
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, host.ErrNativeFunds),
		errors.Is(err, token.ErrAllowanceExceeded):
		return http.StatusUnprocessableEntity, "insufficient funds"
	case errors.Is(err, exchange.ErrTransferFailed):
		return http.StatusUnprocessableEntity, "transfer failed"
	case errors.Is(err, host.ErrUnknownTransfer), errors.Is(err, host.ErrUnknownToken):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func callerFrom(r *http.Request) (common.Address, error) {
	v := r.Header.Get(CallerHeader)
	if v == "" {
		return common.Address{}, fmt.Errorf("missing %s header", CallerHeader)
	}
	return order.ParseAddress(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
