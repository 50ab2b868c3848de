// Package gateway exposes the mint gateway's HTTP API to the mini app.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"clanktonmint/gateway/middleware"
	"clanktonmint/ledger"
	"clanktonmint/mintauth"
	"clanktonmint/pricing"
	"clanktonmint/registrar"
	"clanktonmint/social"
)

const maxBodyBytes = 1 << 16 // 64 KiB

// Server holds the wired core components behind the HTTP surface.
type Server struct {
	store       *ledger.Store
	registrar   *registrar.Registrar
	reconciler  *social.Reconciler
	authorizer  *mintauth.Authorizer
	table       pricing.Table
	adminSecret []byte
	logger      *slog.Logger
}

// Config wires the server's dependencies.
type Config struct {
	Store       *ledger.Store
	Registrar   *registrar.Registrar
	Reconciler  *social.Reconciler
	Authorizer  *mintauth.Authorizer
	Table       pricing.Table
	AdminSecret []byte
	Logger      *slog.Logger
}

// NewServer validates the wiring and constructs the server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("ledger store required")
	}
	if cfg.Registrar == nil {
		return nil, errors.New("registrar required")
	}
	if cfg.Reconciler == nil {
		return nil, errors.New("reconciler required")
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("authorizer required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:       cfg.Store,
		registrar:   cfg.Registrar,
		reconciler:  cfg.Reconciler,
		authorizer:  cfg.Authorizer,
		table:       cfg.Table,
		adminSecret: cfg.AdminSecret,
		logger:      logger,
	}, nil
}

// RouterConfig carries the request-boundary middleware.
type RouterConfig struct {
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.Metrics
	CORS        middleware.CORSConfig
}

// Router assembles the chi router with middleware and all routes mounted.
func (s *Server) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	limited := func(key string, h http.HandlerFunc) http.Handler {
		if cfg.RateLimiter == nil {
			return h
		}
		return cfg.RateLimiter.Middleware(key)(h)
	}

	r.Method(http.MethodPost, "/v1/discounts/actions", limited("actions", s.handleRegisterAction))
	r.Get("/v1/discounts/{address}", s.handleDiscountState)
	r.Method(http.MethodPost, "/v1/follows/reconcile", limited("reconcile", s.handleReconcile))
	r.Method(http.MethodPost, "/v1/mint/authorize", limited("authorize", s.handleAuthorize))
	r.Post("/v1/notifications/register", s.handleNotificationRegister)
	r.Post("/v1/admin/discounts/clear", s.handleAdminClear)
	return r
}

type discountStateResponse struct {
	Address    string        `json:"address"`
	Flags      pricing.Flags `json:"flags"`
	BasePrice  uint64        `json:"basePrice"`
	Discount   uint64        `json:"discount"`
	FinalPrice uint64        `json:"finalPrice"`
	UpdatedAt  string        `json:"updatedAt,omitempty"`
}

func (s *Server) stateResponse(rec ledger.Record) discountStateResponse {
	quote := s.table.Quote(rec.Flags)
	resp := discountStateResponse{
		Address:    rec.Address,
		Flags:      rec.Flags,
		BasePrice:  quote.BasePrice,
		Discount:   quote.Discount,
		FinalPrice: quote.FinalPrice,
	}
	if !rec.UpdatedAt.IsZero() {
		resp.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleRegisterAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		Action  string `json:"action"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Address) == "" || strings.TrimSpace(req.Action) == "" {
		s.writeError(w, http.StatusBadRequest, "MINT-400", "address and action are required", nil)
		return
	}
	rec, err := s.registrar.Register(r.Context(), req.Address, registrar.Action(req.Action))
	switch {
	case errors.Is(err, registrar.ErrInvalidAction):
		s.writeError(w, http.StatusBadRequest, "MINT-400", "unknown action kind", map[string]any{"action": req.Action})
		return
	case errors.Is(err, ledger.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, "MINT-400", "invalid wallet address", nil)
		return
	case err != nil:
		s.logger.Error("register action failed", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "MINT-503", "failed to persist action, retry", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.stateResponse(rec))
}

func (s *Server) handleDiscountState(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	rec, err := s.store.Get(r.Context(), address)
	switch {
	case errors.Is(err, ledger.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, "MINT-400", "invalid wallet address", nil)
		return
	case err != nil:
		s.logger.Error("discount state read failed", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "MINT-503", "ledger unavailable, retry", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.stateResponse(rec))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		FID     int64  `json:"fid"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	rec, verified, err := s.reconciler.Reconcile(r.Context(), req.Address, req.FID)
	switch {
	case errors.Is(err, social.ErrInvalidFID):
		s.writeError(w, http.StatusBadRequest, "MINT-400", "missing or invalid fid", nil)
		return
	case errors.Is(err, ledger.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, "MINT-400", "invalid wallet address", nil)
		return
	case err != nil:
		s.logger.Error("reconcile failed", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "MINT-503", "failed to persist verification, retry", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Verified social.VerifiedFlags  `json:"verified"`
		State    discountStateResponse `json:"state"`
	}{Verified: verified, State: s.stateResponse(rec)})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	att, rec, err := s.authorizer.Authorize(r.Context(), req.Address)
	switch {
	case errors.Is(err, ledger.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, "MINT-400", "invalid wallet address", nil)
		return
	case errors.Is(err, mintauth.ErrSignerUnavailable):
		s.logger.Error("mint authorization failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "MINT-500", "signer not configured", nil)
		return
	case err != nil:
		s.logger.Error("mint authorization failed", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "MINT-503", "authorization unavailable, retry", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		AttestationID string        `json:"attestationId"`
		Minter        string        `json:"minter"`
		Price         string        `json:"price"`
		Nonce         uint64        `json:"nonce"`
		Deadline      int64         `json:"deadline"`
		Signature     string        `json:"signature"`
		Flags         pricing.Flags `json:"flags"`
	}{
		AttestationID: att.ID,
		Minter:        strings.ToLower(att.Minter.Hex()),
		Price:         att.PriceWei.String(),
		Nonce:         att.Nonce,
		Deadline:      att.Deadline,
		Signature:     "0x" + hex.EncodeToString(att.Signature),
		Flags:         rec.Flags,
	})
}

func (s *Server) handleNotificationRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FID     int64  `json:"fid"`
		Token   string `json:"token"`
		Address string `json:"address"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.PutNotificationToken(r.Context(), req.FID, req.Token, req.Address); err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			s.logger.Error("notification register failed", "err", err)
			s.writeError(w, http.StatusServiceUnavailable, "MINT-503", "failed to persist token, retry", nil)
			return
		}
		s.writeError(w, http.StatusBadRequest, "MINT-400", err.Error(), nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminClear(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizeAdmin(r); err != nil {
		s.writeError(w, http.StatusUnauthorized, "MINT-401", err.Error(), nil)
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	err := s.store.Clear(r.Context(), req.Address)
	switch {
	case errors.Is(err, ledger.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, "MINT-400", "invalid wallet address", nil)
		return
	case err != nil:
		s.logger.Error("admin clear failed", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "MINT-503", "ledger unavailable, retry", nil)
		return
	}
	s.logger.Info("discount flags cleared by administrator", "address", req.Address)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// authorizeAdmin checks the Bearer token against the shared admin secret.
func (s *Server) authorizeAdmin(r *http.Request) error {
	if len(s.adminSecret) == 0 {
		return errors.New("administrative access not configured")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errors.New("missing bearer token")
	}
	token, err := jwt.Parse(strings.TrimSpace(raw), func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.adminSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "MINT-400", "failed to read request body", nil)
		return false
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "MINT-400", "invalid JSON payload", nil)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "MINT-500", "failed to marshal response", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
