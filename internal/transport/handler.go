// Package transport exposes the HTTP edge: payment initiation for the
// merchant frontend and the per-gateway callback routes.
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/hoongun/getpaid/internal/backend"
	"github.com/hoongun/getpaid/internal/backend/platron"
	"github.com/hoongun/getpaid/internal/logger"
	"github.com/hoongun/getpaid/internal/payment"
	"github.com/hoongun/getpaid/internal/userdata"

	"go.uber.org/zap"
)

type Handler struct {
	registry   *backend.Registry
	store      payment.Store
	reconciler *payment.Reconciler
	users      userdata.Provider

	successURL string
	failureURL string
}

func NewHandler(registry *backend.Registry, store payment.Store, reconciler *payment.Reconciler, users userdata.Provider, successURL, failureURL string) *Handler {
	if users == nil {
		users = userdata.None{}
	}
	return &Handler{
		registry:   registry,
		store:      store,
		reconciler: reconciler,
		users:      users,
		successURL: successURL,
		failureURL: failureURL,
	}
}

// Routes wires the callback layout the gateways are registered with:
// Platron calls its two scripts, the flat-form gateways one online
// endpoint each.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /payments/{id}/initiate", h.initiate)
	mux.HandleFunc("GET /payments/{id}/success", h.fallback(h.successURL))
	mux.HandleFunc("GET /payments/{id}/failure", h.fallback(h.failureURL))

	mux.HandleFunc("POST /gateways/platron/check", h.callback(platron.Name, platron.ScriptCheck))
	mux.HandleFunc("POST /gateways/platron/result", h.callback(platron.Name, platron.ScriptResult))
	mux.HandleFunc("POST /gateways/{name}/online", h.online)

	return mux
}

// initiateResponse tells the frontend where to send the payer. Fields
// is only set for POST redirects and carries the pre-signed pay form.
type initiateResponse struct {
	URL    string            `json:"url"`
	Method string            `json:"method"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "unknown payment", http.StatusNotFound)
		return
	}

	p, err := h.store.GetByID(ctx, id)
	if errors.Is(err, payment.ErrNotFound) {
		http.Error(w, "unknown payment", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.FromCtx(ctx).Error("payment lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	adapter, ok := h.registry.Get(p.Backend)
	if !ok {
		logger.FromCtx(ctx).Error("payment references unconfigured backend",
			zap.Int64("payment_id", p.ID),
			zap.String("backend", p.Backend),
		)
		http.Error(w, "backend not configured", http.StatusConflict)
		return
	}
	ctx = logger.WithBackend(ctx, adapter.Name())

	extra, err := h.users.ProvideUserFields(ctx, p.OrderID)
	if err != nil {
		logger.FromCtx(ctx).Error("user data lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	redirect, err := adapter.BuildOutbound(ctx, p, extra)
	switch {
	case errors.Is(err, backend.ErrCurrency):
		http.Error(w, "currency not accepted by backend", http.StatusConflict)
		return
	case errors.Is(err, backend.ErrGatewayUnavailable):
		http.Error(w, "gateway unavailable", http.StatusBadGateway)
		return
	case err != nil:
		logger.FromCtx(ctx).Error("failed to build outbound redirect", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(initiateResponse{
		URL:    redirect.URL,
		Method: redirect.Method,
		Fields: redirect.Fields,
	})
}

// online dispatches the single-endpoint gateways by path segment.
func (h *Handler) online(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == platron.Name {
		// Platron has dedicated script routes.
		http.NotFound(w, r)
		return
	}
	h.callback(name, "")(w, r)
}

// callback runs the shared notification flow: verify, reconcile,
// answer. The gateway always gets a 200 with its protocol's body; the
// outcome travels in the reply payload, not the HTTP status.
func (h *Handler) callback(name, script string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adapter, ok := h.registry.Get(name)
		if !ok {
			http.NotFound(w, r)
			return
		}

		ctx := logger.WithBackend(r.Context(), name)

		if err := r.ParseForm(); err != nil {
			logger.FromCtx(ctx).Warn("unparseable callback body", zap.Error(err))
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		req := &backend.Request{
			Script:   script,
			RemoteIP: remoteIP(r),
			Form:     r.PostForm,
		}

		n, err := adapter.VerifyAndMap(ctx, req)
		var res *payment.ApplyResult
		if err == nil {
			res, err = h.reconciler.Apply(ctx, n)
		}
		if err != nil {
			logger.FromCtx(ctx).Warn("callback not applied", zap.Error(err))
		}

		reply := adapter.Reply(ctx, req, n, res, err)
		w.Header().Set("Content-Type", reply.ContentType)
		_, _ = w.Write(reply.Body)
	}
}

// fallback forwards the payer to the configured merchant page, keeping
// the payment id in the query string.
func (h *Handler) fallback(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if target == "" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, target+"?payment="+r.PathValue("id"), http.StatusFound)
	}
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
