package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simula/soccer-rag/internal/agent"
	"github.com/simula/soccer-rag/internal/cleaner"
	"github.com/simula/soccer-rag/internal/match"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/reconcile"
	"github.com/simula/soccer-rag/internal/retriever"
	"github.com/simula/soccer-rag/internal/schema"
	"github.com/simula/soccer-rag/internal/session"
	"github.com/simula/soccer-rag/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, cfg, "serve", envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		ttl := time.Duration(cfg.Server.SessionTTLSecs) * time.Second
		a := &api{
			schema:     e.Schema,
			retrievers: e.Retrievers,
			cleaner:    e.Cleaner,
			agent:      e.Agent,
			store:      e.Store,
			sessions:   session.NewRegistry(ttl),
			match:      matchOptions(cfg),
			method:     model.ParseMethod(cfg.Resolve.Method),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(a, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			a.sessions.Janitor(gctx, sweepInterval(ttl))
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > 4*time.Minute {
		return time.Minute
	}
	return ttl / 4
}

// api serves the HTTP endpoints. store and agent may be nil.
type api struct {
	schema     *schema.Schema
	retrievers *retriever.Set
	cleaner    *cleaner.Cleaner
	agent      agent.Agent
	store      store.Store
	sessions   *session.Registry
	match      match.Options
	method     model.Method
}

func newRouter(a *api, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/properties", a.listProperties)
		r.Get("/properties/{name}/matches", a.findMatches)

		r.Post("/sessions", a.createSession)
		r.Get("/sessions/{id}", a.getSession)
		r.Post("/sessions/{id}/selection", a.submitSelection)
		r.Post("/sessions/{id}/answer", a.answerSession)

		r.Get("/queries", a.listQueries)
		r.Get("/queries/{id}", a.getQuery)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *api) methodParam(s string) model.Method {
	if s == "" {
		return a.method
	}
	return model.ParseMethod(s)
}

type propertyInfo struct {
	Name       string `json:"name"`
	Table      string `json:"table"`
	Column     string `json:"column"`
	HasKey     bool   `json:"has_primary_key"`
	HasAliases bool   `json:"has_aliases"`
	Numeric    bool   `json:"numeric"`
}

func (a *api) listProperties(w http.ResponseWriter, r *http.Request) {
	out := make([]propertyInfo, 0, len(a.schema.Properties))
	for _, p := range a.schema.Properties {
		out = append(out, propertyInfo{
			Name:       p.Name,
			Table:      p.DBTable,
			Column:     p.DBColumn,
			HasKey:     p.HasPK(),
			HasAliases: p.HasAugmentation(),
			Numeric:    p.Numeric,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) findMatches(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ret, ok := a.retrievers.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown property %q", name))
		return
	}
	value := r.URL.Query().Get("value")
	if value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	res, err := ret.FindCloseMatches(r.Context(), value, a.methodParam(r.URL.Query().Get("method")), a.match)
	if err != nil {
		zap.L().Error("match lookup failed", zap.String("property", name), zap.Error(err))
		writeError(w, http.StatusBadGateway, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Session statuses.
const (
	statusAwaiting = "awaiting_selection"
	statusComplete = "complete"
)

type sessionView struct {
	ID              string                   `json:"id"`
	Status          string                   `json:"status"`
	Prompt          string                   `json:"prompt"`
	Request         *reconcile.Request       `json:"request,omitempty"`
	AnnotatedPrompt string                   `json:"annotated_prompt,omitempty"`
	Resolved        model.ResolvedProperties `json:"resolved,omitempty"`
	PrimaryKeys     model.PrimaryKeyBundle   `json:"primary_keys,omitempty"`
	Unresolved      []reconcile.Decision     `json:"unresolved,omitempty"`
}

func viewOf(run *cleaner.Run, pending *reconcile.Request) sessionView {
	rec := run.Record()
	v := sessionView{ID: rec.ID, Prompt: rec.Prompt}
	if !run.Done() {
		v.Status = statusAwaiting
		v.Request = pending
		return v
	}
	v.Status = statusComplete
	v.AnnotatedPrompt = rec.AnnotatedPrompt
	if res := run.Result(); res != nil {
		v.Resolved = res.Resolved
		v.PrimaryKeys = res.PrimaryKeys
		v.Unresolved = res.Unresolved()
	}
	return v
}

type createSessionRequest struct {
	Prompt string `json:"prompt"`
	Method string `json:"method"`
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	run, err := a.cleaner.Start(r.Context(), req.Prompt, a.methodParam(req.Method))
	if err != nil {
		zap.L().Error("start session", zap.Error(err))
		writeError(w, http.StatusBadGateway, "extraction failed")
		return
	}
	pending, err := run.Advance(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	a.sessions.Put(run)
	writeJSON(w, http.StatusCreated, viewOf(run, pending))
}

func (a *api) lookupSession(w http.ResponseWriter, r *http.Request) (*cleaner.Run, bool) {
	run, err := a.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return run, true
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	run, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	// Advance returns the pending request as is, and resumes a run whose
	// last advance was cut short by a disconnect.
	pending, err := run.Advance(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run, pending))
}

func (a *api) submitSelection(w http.ResponseWriter, r *http.Request) {
	run, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	var resp reconcile.Response
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := run.Submit(r.Context(), resp); err != nil {
		switch {
		case errors.Is(err, reconcile.ErrPassComplete), errors.Is(err, reconcile.ErrNoPending):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	pending, err := run.Advance(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run, pending))
}

func (a *api) answerSession(w http.ResponseWriter, r *http.Request) {
	if a.agent == nil {
		writeError(w, http.StatusNotImplemented, "answering is not configured")
		return
	}
	run, ok := a.lookupSession(w, r)
	if !ok {
		return
	}

	ans, err := a.cleaner.Answer(r.Context(), run, a.agent)
	switch {
	case errors.Is(err, cleaner.ErrNotDone):
		writeError(w, http.StatusConflict, "session is awaiting a selection")
		return
	case errors.Is(err, agent.ErrNoAnswer):
		writeError(w, http.StatusUnprocessableEntity, "no answer within the iteration limit")
		return
	case err != nil:
		zap.L().Error("answer session", zap.String("id", run.ID()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "answering failed")
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (a *api) listQueries(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotImplemented, "history is not configured")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	queries, err := a.store.ListQueries(r.Context(), store.QueryFilter{
		Status: model.QueryStatus(q.Get("status")),
		Method: model.Method(q.Get("method")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		zap.L().Error("list queries", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if queries == nil {
		queries = []model.QueryRecord{}
	}
	writeJSON(w, http.StatusOK, queries)
}

func (a *api) getQuery(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotImplemented, "history is not configured")
		return
	}
	rec, err := a.store.GetQuery(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}
	if err != nil {
		zap.L().Error("get query", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
