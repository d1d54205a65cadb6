package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"staysync/internal/config"
	appLog "staysync/internal/log"
	"staysync/internal/manual"
	"staysync/internal/model"
	"staysync/internal/reconcile"
	"staysync/internal/report"
	"staysync/internal/store"
)

// exportPrefix is the public, token-addressed block feed. It is never
// behind Basic Auth since platforms poll it anonymously.
const exportPrefix = "/ical/export/"

// Deps are the services the HTTP surface fronts.
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Syncer   *reconcile.Syncer
	Manual   *manual.Service
	Reports  *report.Service
	Location *time.Location
	Now      func() time.Time
}

// Server exposes the sync, edit, reporting and export APIs.
type Server struct {
	cfg      *config.Config
	store    store.Store
	syncer   *reconcile.Syncer
	manual   *manual.Service
	reports  *report.Service
	loc      *time.Location
	now      func() time.Time
	router   *mux.Router
	validate *validator.Validate
}

func NewServer(d Deps) *Server {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Server{
		cfg:      d.Config,
		store:    d.Store,
		syncer:   d.Syncer,
		manual:   d.Manual,
		reports:  d.Reports,
		loc:      d.Location,
		now:      d.Now,
		router:   mux.NewRouter(),
		validate: newValidator(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router, wrapped in Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than lock everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health and the export feed.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, exportPrefix) {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="staysync", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/fetch", s.handleFetch).Methods(http.MethodGet)
	api.HandleFunc("/conflicts", s.handleConflicts).Methods(http.MethodGet)

	api.HandleFunc("/bookings", s.handleBookings).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id:[0-9]+}/guests", s.handleGuests).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/notes", s.handleNotes).Methods(http.MethodPost)

	api.HandleFunc("/merge", s.handleMerge).Methods(http.MethodPost)
	api.HandleFunc("/split", s.handleSplit).Methods(http.MethodPost)
	api.HandleFunc("/undo-merge", s.handleUndoMerge).Methods(http.MethodPost)
	api.HandleFunc("/undo-split", s.handleUndoSplit).Methods(http.MethodPost)
	api.HandleFunc("/resolve-conflict", s.handleResolveConflict).Methods(http.MethodPost)

	api.HandleFunc("/blocks", s.handleCreateBlock).Methods(http.MethodPost)
	api.HandleFunc("/blocks/{id:[0-9]+}", s.handleUpdateBlock).Methods(http.MethodPut)
	api.HandleFunc("/blocks/{id:[0-9]+}", s.handleDeleteBlock).Methods(http.MethodDelete)
	api.HandleFunc("/blocks/{id:[0-9]+}/resolve-conflict", s.handleResolveBlockConflict).Methods(http.MethodPost)

	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/summary/current-month", s.handleCurrentMonth).Methods(http.MethodGet)
	api.HandleFunc("/summary/next-month", s.handleNextMonth).Methods(http.MethodGet)

	api.HandleFunc("/properties", s.handleProperties).Methods(http.MethodGet)
	api.HandleFunc("/properties/{name}/export-token", s.handleRegenerateToken).Methods(http.MethodPost)

	r.HandleFunc(exportPrefix+"{token}", s.handleExport).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, listen string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

// writeOK merges fields into a {"success": true} envelope.
func writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		verr *manual.ValidationError
		oerr *manual.OverlapError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
	case errors.As(err, &oerr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"success":      false,
			"error":        oerr.Error(),
			"conflictType": oerr.Type,
			"conflicts":    oerr.Conflicts,
		})
	case errors.Is(err, manual.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, manual.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, reconcile.ErrNoSources), errors.Is(err, report.ErrBadRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// request helpers

// decodeBody reads a JSON body into dst and runs struct validation.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return describeValidation(err)
	}
	return nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "datetime":
		return fmt.Errorf("%s must be a date in YYYY-MM-DD format", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min", "max", "len", "gte", "lte":
		return fmt.Errorf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

func pathID(r *http.Request) (model.BookingID, error) {
	n, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id")
	}
	return model.BookingID(n), nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// parseOptionalDay parses YYYY-MM-DD; an empty string yields the zero time.
func parseOptionalDay(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	d, err := model.ParseDay(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date format, use YYYY-MM-DD", name)
	}
	return d, nil
}

// splitList parses a comma-separated query value.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
