package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hpcops/tenantgate/internal/audit"
	"github.com/hpcops/tenantgate/internal/kube"
	"github.com/hpcops/tenantgate/internal/lib/httperr"
	"github.com/hpcops/tenantgate/internal/logging"
	"github.com/hpcops/tenantgate/internal/store"
	"github.com/hpcops/tenantgate/internal/tenancy"
)

const (
	version                 = "0.1.0"
	otelServiceName         = "tenantgate"
	defaultTokenTTL         = 60 * time.Minute
	maxBodyBytes      int64 = 1 << 20 // 1MB
	rateLimitRequests       = 120
)

// Server exposes the administrative HTTP surface. It translates requests
// into engine intents and renders the composed results; request-level
// timeouts live on the http.Server, never inside the engine.
type Server struct {
	engine      *tenancy.Engine
	ring        *audit.Ring
	requireAuth bool
	signingKey  []byte
}

// NewServer builds a Server around the reconciliation engine. The audit
// ring backs GET /audit/events and may be nil.
func NewServer(engine *tenancy.Engine, ring *audit.Ring) *Server {
	return &Server{
		engine:      engine,
		ring:        ring,
		requireAuth: parseBool(os.Getenv("TENANTGATE_REQUIRE_AUTH")),
		signingKey:  []byte(os.Getenv("JWT_SIGNING_KEY")),
	}
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(rateLimitRequests, time.Minute))
	r.Use(otelhttp.NewMiddleware(otelServiceName))
	r.Use(s.logMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/healthz", s.healthz)
		api.Get("/readyz", s.readyz)
		api.Get("/version", s.version)

		api.Post("/tokens", s.issueToken)
		api.With(s.authMiddleware).Get("/me", s.me)

		api.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", s.createGroup)
				r.Get("/", s.listGroups)
				r.Route("/{group}", func(r chi.Router) {
					r.Get("/members", s.listMembers)
					r.Post("/members", s.addMembers)
					r.Delete("/members/{username}", s.removeMember)
				})
			})
			r.Put("/members/{username}", s.moveMember)
			r.Get("/roles", s.listRoleAssignments)
			r.Get("/audit/events", s.auditEvents)
		})
	})
	return r
}

// StartHTTP listens and serves until the context is canceled.
func StartHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		spanCtx := trace.SpanContextFromContext(r.Context())
		if spanCtx.IsValid() {
			fields = append(fields, zap.String("trace_id", spanCtx.TraceID().String()))
		}
		logging.L.Info("http_request", fields...)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

type createGroupRequest struct {
	Name string `json:"name"`
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin", "ops") {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "TG-400", err.Error())
		return
	}
	if !kube.ValidName(req.Name) {
		writeError(w, http.StatusBadRequest, "TG-400", "group name must be a lowercase RFC 1123 label")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.CreateGroup(r.Context(), req.Name))
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	listing, err := s.engine.ListGroups(r.Context())
	if err != nil {
		// Tracked view still renders; the cluster view stays empty.
		logging.L.Warn("list namespaces", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, listing)
}

type addMembersRequest struct {
	Members []tenancy.MemberSpec `json:"members"`
	Role    string               `json:"role,omitempty"`
}

func (s *Server) addMembers(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin", "ops") {
		return
	}
	group := chi.URLParam(r, "group")
	if !kube.ValidName(group) {
		writeError(w, http.StatusBadRequest, "TG-400", "invalid group name")
		return
	}
	var req addMembersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "TG-400", err.Error())
		return
	}
	if len(req.Members) == 0 {
		writeError(w, http.StatusBadRequest, "TG-400", "at least one member is required")
		return
	}
	for _, m := range req.Members {
		if strings.TrimSpace(m.Username) == "" {
			writeError(w, http.StatusBadRequest, "TG-400", "username is required for every member")
			return
		}
		if m.ShortName != "" && !kube.ValidName(m.ShortName) {
			writeError(w, http.StatusBadRequest, "TG-400", "short name '"+m.ShortName+"' must be a lowercase RFC 1123 label")
			return
		}
	}
	writeJSON(w, http.StatusOK, s.engine.AddMembers(r.Context(), group, req.Members, req.Role))
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	members, err := s.engine.ListMembers(group)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "TG-404", "group not tracked")
			return
		}
		writeError(w, http.StatusInternalServerError, "TG-500", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type moveMemberRequest struct {
	OldGroup  string `json:"oldGroup"`
	NewGroup  string `json:"newGroup"`
	NewRole   string `json:"newRole,omitempty"`
	ShortName string `json:"shortName,omitempty"`
}

func (s *Server) moveMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin", "ops") {
		return
	}
	username := chi.URLParam(r, "username")
	var req moveMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "TG-400", err.Error())
		return
	}
	if !kube.ValidName(req.OldGroup) || !kube.ValidName(req.NewGroup) {
		writeError(w, http.StatusBadRequest, "TG-400", "oldGroup and newGroup must be lowercase RFC 1123 labels")
		return
	}
	if req.ShortName != "" && !kube.ValidName(req.ShortName) {
		writeError(w, http.StatusBadRequest, "TG-400", "short name must be a lowercase RFC 1123 label")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.MoveMember(r.Context(), username, req.OldGroup, req.NewGroup, req.NewRole, req.ShortName))
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin", "ops") {
		return
	}
	group := chi.URLParam(r, "group")
	username := chi.URLParam(r, "username")
	writeJSON(w, http.StatusOK, s.engine.RemoveMember(r.Context(), group, username))
}

func (s *Server) listRoleAssignments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListRoleAssignments())
}

func (s *Server) auditEvents(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
		writeError(w, http.StatusNotFound, "TG-404", "audit trail disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.ring.Recent(limit))
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	httperr.Write(w, status, code, msg)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on", "y", "t":
		return true
	default:
		return false
	}
}
