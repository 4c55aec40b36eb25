// Package api serves the request boundary over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/w3bpay/internal/control"
	"github.com/vietddude/w3bpay/internal/core/domain"
)

const maxBodyBytes = 1 << 20

// HealthFunc reports whether the service's dependencies are reachable.
type HealthFunc func(ctx context.Context) error

// Server provides the HTTP endpoints.
type Server struct {
	svc    *control.Service
	health HealthFunc
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a new HTTP server. health may be nil.
func NewServer(svc *control.Service, health HealthFunc, port int) *Server {
	s := &Server{
		svc:    svc,
		health: health,
		log:    slog.Default().With("component", "api"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/web3", func(api chi.Router) {
		api.Post("/wallet/connect", s.handleConnectWallet)
		api.Get("/wallet/{customerId}", s.handleWalletInfo)
		api.Post("/payment/crypto", s.handleCryptoPayment)
		api.Post("/nft/generate/{saleId}", s.handleMintReceipt)
		api.Post("/loyalty/issue", s.handleIssueReward)
		api.Get("/loyalty/{customerId}/balance", s.handleRewardBalance)
		api.Get("/tx/{hash}/confirmations", s.handleConfirmations)
	})
	return r
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type connectWalletRequest struct {
	CustomerID string `json:"customerId"`
	Address    string `json:"address"`
	Kind       string `json:"kind"`
}

type cryptoPaymentRequest struct {
	SaleID   string      `json:"saleId"`
	Address  string      `json:"address"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

type issueRewardRequest struct {
	CustomerID     string      `json:"customerId"`
	PurchaseAmount json.Number `json:"purchaseAmount"`
}

func (s *Server) handleConnectWallet(w http.ResponseWriter, r *http.Request) {
	var req connectWalletRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, s.svc.ConnectWallet(r.Context(), req.CustomerID, req.Address, req.Kind))
}

func (s *Server) handleWalletInfo(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.svc.GetWalletInfo(r.Context(), chi.URLParam(r, "customerId")))
}

func (s *Server) handleCryptoPayment(w http.ResponseWriter, r *http.Request) {
	var req cryptoPaymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, s.svc.ProcessPayment(r.Context(), req.SaleID, req.Address, req.Amount.String(), req.Currency))
}

func (s *Server) handleMintReceipt(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.svc.MintReceipt(r.Context(), chi.URLParam(r, "saleId")))
}

func (s *Server) handleIssueReward(w http.ResponseWriter, r *http.Request) {
	var req issueRewardRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, s.svc.IssueReward(r.Context(), req.CustomerID, req.PurchaseAmount.String()))
}

func (s *Server) handleRewardBalance(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.svc.GetRewardBalance(r.Context(), chi.URLParam(r, "customerId")))
}

func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	var required uint64
	if q := r.URL.Query().Get("required"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			s.respond(w, control.Result{
				ErrorKind: domain.KindInvalidRequest,
				Message:   fmt.Sprintf("invalid required confirmations %q", q),
			})
			return
		}
		required = n
	}
	s.respond(w, s.svc.VerifyTransaction(r.Context(), chi.URLParam(r, "hash"), required))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	response := map[string]string{"status": "healthy"}
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			response = map[string]string{"status": "unhealthy", "error": err.Error()}
		}
	}
	writeJSON(w, status, response)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.respond(w, control.Result{
			ErrorKind: domain.KindInvalidRequest,
			Message:   fmt.Sprintf("invalid request body: %v", err),
		})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, res control.Result) {
	writeJSON(w, StatusFor(res), res)
}

// StatusFor maps a result to its HTTP status. Soft outcomes are 200.
func StatusFor(res control.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case domain.KindInvalidAddress, domain.KindInvalidRequest, domain.KindUnsupportedCurrency:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAddressInUse:
		return http.StatusConflict
	case domain.KindSubmissionError:
		return http.StatusBadGateway
	case domain.KindNodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
