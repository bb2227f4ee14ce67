package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"veras/internal/app"
	"veras/internal/ratelimit"
	"veras/internal/util"
	"veras/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	RedisAddr                  string
	RedisPassword              string
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	TrustedProxies             *util.TrustedProxies
}

// Server exposes the HTTP API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	trustedProxies  *util.TrustedProxies
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "veras:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		trustedProxies:  cfg.TrustedProxies,
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("veras", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

// routes mounts every route exactly once. The book resource is reachable
// only through the authenticated wrapper; no unauthenticated variant exists.
func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login", s.handleLogin)

	// books (auth required)
	s.mux.Handle("/books", s.authenticated(s.handleBooks))
	s.mux.Handle("/books/", s.authenticated(s.handleBookSubtree))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authHandler receives the resolved caller; the identity always comes from
// the session token, never from the payload.
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := bearerToken(r)
		user, err := s.app.Authenticate(token)
		if err != nil {
			s.audit(r, "auth.token.verify", "fail", "reason", err.Error())
			writeAuthenticateError(w, err)
			return
		}
		next(w, r, user)
	})
}

// auth handlers

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type publicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  publicUser `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Register(req.Username, req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.register", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: publicView(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: publicView(user)})
}

// book handlers

type bookRequest struct {
	Title             string     `json:"title"`
	Author            string     `json:"author"`
	FavoriteCharacter string     `json:"favoriteCharacter"`
	Genre             string     `json:"genre"`
	StartDate         *time.Time `json:"startDate"`
	EndDate           *time.Time `json:"endDate"`
	Status            string     `json:"status"`
	Rating            *float64   `json:"rating"`
	Summary           string     `json:"summary"`
	Quotes            []string   `json:"quotes"`
}

type ratingRequest struct {
	Rating *float64 `json:"rating"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// /books
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		s.handleListBooks(w, r, user)
	case http.MethodPost:
		s.handleCreateBook(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// /books/stats, /books/{id}, /books/{id}/rating, /books/{id}/status
func (s *Server) handleBookSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}
	if len(parts) == 1 {
		if id == "stats" {
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			s.handleStats(w, r, user)
			return
		}
		switch r.Method {
		case http.MethodPut:
			s.handleUpdateBook(w, r, user, id)
		case http.MethodDelete:
			s.handleDeleteBook(w, r, user, id)
		default:
			methodNotAllowed(w)
		}
		return
	}
	switch parts[1] {
	case "rating":
		switch r.Method {
		case http.MethodPatch:
			s.handleUpdateRating(w, r, user, id)
		case http.MethodDelete:
			s.handleClearRating(w, r, user, id)
		default:
			methodNotAllowed(w)
		}
	case "status":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		s.handleUpdateStatus(w, r, user, id)
	default:
		notFound(w)
	}
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.CreateBook(user, app.BookInput{
		Title:             req.Title,
		Author:            req.Author,
		FavoriteCharacter: req.FavoriteCharacter,
		Genre:             req.Genre,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		Status:            req.Status,
		Rating:            req.Rating,
		Summary:           req.Summary,
		Quotes:            req.Quotes,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	query := r.URL.Query()
	books, err := s.app.ListBooks(user, app.ListQuery{
		Status: query.Get("durum"),
		Query:  query.Get("q"),
		Sort:   query.Get("sort"),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, user domain.User) {
	stats, err := s.app.Stats(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	patch, err := buildBookPatch(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.UpdateBook(user, id, patch)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if err := s.app.DeleteBook(user, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "book deleted"})
}

func (s *Server) handleUpdateRating(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req ratingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.UpdateRating(user, id, req.Rating)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleClearRating(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	book, err := s.app.ClearRating(user, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.UpdateStatus(user, id, req.Status)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// buildBookPatch maps present JSON keys onto a partial update, so an absent
// field stays untouched while an explicit null clears nullable fields.
// Unknown keys, including any owner field, are ignored.
func buildBookPatch(raw map[string]json.RawMessage) (app.BookPatch, error) {
	var patch app.BookPatch
	for key, value := range raw {
		switch key {
		case "title":
			s, err := decodeNullableString(value)
			if err != nil {
				return app.BookPatch{}, err
			}
			if s == nil {
				empty := ""
				s = &empty
			}
			patch.Title = s
		case "author":
			s, err := decodeNullableString(value)
			if err != nil {
				return app.BookPatch{}, err
			}
			if s == nil {
				empty := ""
				s = &empty
			}
			patch.Author = s
		case "favoriteCharacter":
			s, err := decodeNullableString(value)
			if err != nil {
				return app.BookPatch{}, err
			}
			patch.FavoriteCharacter = orEmpty(s)
		case "genre":
			s, err := decodeNullableString(value)
			if err != nil {
				return app.BookPatch{}, err
			}
			patch.Genre = orEmpty(s)
		case "summary":
			s, err := decodeNullableString(value)
			if err != nil {
				return app.BookPatch{}, err
			}
			patch.Summary = orEmpty(s)
		case "status":
			s, err := decodeNullableString(value)
			if err != nil {
				return app.BookPatch{}, err
			}
			if s == nil {
				empty := ""
				s = &empty
			}
			patch.Status = s
		case "rating":
			var rating *float64
			if err := json.Unmarshal(value, &rating); err != nil {
				return app.BookPatch{}, err
			}
			patch.Rating = rating
			patch.RatingSet = true
		case "startDate":
			var date *time.Time
			if err := json.Unmarshal(value, &date); err != nil {
				return app.BookPatch{}, err
			}
			patch.StartDate = date
			patch.StartDateSet = true
		case "endDate":
			var date *time.Time
			if err := json.Unmarshal(value, &date); err != nil {
				return app.BookPatch{}, err
			}
			patch.EndDate = date
			patch.EndDateSet = true
		case "quotes":
			var quotes []string
			if err := json.Unmarshal(value, &quotes); err != nil {
				return app.BookPatch{}, err
			}
			patch.Quotes = quotes
			patch.QuotesSet = true
		}
	}
	return patch, nil
}

func decodeNullableString(raw json.RawMessage) (*string, error) {
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func orEmpty(s *string) *string {
	if s == nil {
		empty := ""
		return &empty
	}
	return s
}

// helpers

func publicView(user domain.User) publicUser {
	return publicUser{ID: user.ID, Username: user.Username, Email: user.Email}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeAuthenticateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrMissingToken),
		errors.Is(err, app.ErrInvalidToken),
		errors.Is(err, app.ErrUnknownUser):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		slog.Error("authenticate failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeAppError is the single boundary translating error kinds to HTTP
// statuses. Unexpected errors are logged and redacted to a generic 500.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *app.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, app.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("request failed",
			"err", err,
			"path", r.URL.Path,
			"method", r.Method,
			"request_id", util.RequestIDFromRequest(r),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
