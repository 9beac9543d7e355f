package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-spotify-mood-recommender/internal/account"
	"github.com/justestif/go-spotify-mood-recommender/internal/analyze"
	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
	"github.com/justestif/go-spotify-mood-recommender/internal/auth"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/identity"
	"github.com/justestif/go-spotify-mood-recommender/internal/recommend"
	"github.com/justestif/go-spotify-mood-recommender/internal/session"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
)

const (
	defaultFeaturedLimit = 10
	maxFeaturedLimit     = 50

	// multipartOverhead is allowed on top of the image for form framing.
	multipartOverhead = 1 << 20

	maxJSONBody = 64 << 10
)

// Handlers contains the HTTP handlers.
type Handlers struct {
	cfg    ServerConfig
	svc    Services
	logger *log.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg ServerConfig, svc Services, logger *log.Logger) *Handlers {
	return &Handlers{cfg: cfg, svc: svc, logger: logger}
}

// Health reports liveness and, when configured, database reachability (GET /health).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.svc.Health != nil {
		if err := h.svc.Health.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start begins the provider authorization flow (GET /auth/spotify/start).
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	session.SetStateCookie(w, state, h.cfg.CookieSecure)
	http.Redirect(w, r, h.svc.Auth.AuthURL(state), http.StatusFound)
}

// Callback completes the authorization flow (GET /auth/spotify/callback).
// Every outcome is a redirect to the frontend.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expected := session.TakeStateCookie(w, r, h.cfg.CookieSecure)

	var err error
	switch {
	case q.Get("error") != "":
		err = fmt.Errorf("provider denied authorization (%s): %w", q.Get("error"), apperr.ErrUnauthorized)
	case expected == "" || q.Get("state") != expected:
		err = fmt.Errorf("oauth state mismatch: %w", apperr.ErrInvalidInput)
	case q.Get("code") == "":
		err = fmt.Errorf("missing authorization code: %w", apperr.ErrInvalidGrant)
	}
	if err != nil {
		h.logger.Warn("rejected authorization callback", "err", err)
		http.Redirect(w, r, identity.RedirectURL(h.cfg.FrontendURL, nil, err), http.StatusFound)
		return
	}

	res, err := h.svc.Resolver.Resolve(r.Context(), identity.Callback{
		Code:          q.Get("code"),
		SessionUserID: userIDFrom(r.Context()),
	})
	if err != nil {
		h.logger.Error("resolving identity failed", "err", err)
		h.recordError(r, apperr.Public(err).Status, err)
		http.Redirect(w, r, identity.RedirectURL(h.cfg.FrontendURL, nil, err), http.StatusFound)
		return
	}

	if res.Outcome == identity.OutcomeLogin {
		session.SetCookie(w, res.SessionToken, h.svc.Sessions.TTL(), h.cfg.CookieSecure)
	}
	http.Redirect(w, r, identity.RedirectURL(h.cfg.FrontendURL, res, nil), http.StatusFound)
}

type userView struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Me returns the current session's user, or null (GET /auth/me).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	var user *userView
	if c := claimsFrom(r.Context()); c != nil {
		user = &userView{ID: c.UserID, Email: c.Email, Username: c.Username}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// Logout clears the session cookie (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	session.ClearCookie(w, h.cfg.CookieSecure)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type accountResponse struct {
	User account.User `json:"user"`
}

// Register creates a local account and signs it in (POST /auth/register).
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("decoding request: %w: %w", apperr.ErrInvalidInput, err))
		return
	}

	sess, err := h.svc.Accounts.Register(r.Context(), account.Registration{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	session.SetCookie(w, sess.Token, h.svc.Sessions.TTL(), h.cfg.CookieSecure)
	writeJSON(w, http.StatusCreated, accountResponse{User: sess.User})
}

// Login signs in with email and password (POST /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("decoding request: %w: %w", apperr.ErrInvalidInput, err))
		return
	}

	sess, err := h.svc.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	session.SetCookie(w, sess.Token, h.svc.Sessions.TTL(), h.cfg.CookieSecure)
	writeJSON(w, http.StatusOK, accountResponse{User: sess.User})
}

// Profile returns the signed-in account (GET /user/profile).
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Accounts.Profile(r.Context(), claimsFrom(r.Context()).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{User: *user})
}

type profileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

// UpdateProfile changes the username and/or email and refreshes the session
// cookie (PATCH /user/profile).
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("decoding request: %w: %w", apperr.ErrInvalidInput, err))
		return
	}

	sess, err := h.svc.Accounts.UpdateProfile(r.Context(), claimsFrom(r.Context()).UserID, account.ProfileChange{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	session.SetCookie(w, sess.Token, h.svc.Sessions.TTL(), h.cfg.CookieSecure)
	writeJSON(w, http.StatusOK, accountResponse{User: sess.User})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type changePasswordResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ChangePassword sets or replaces the local password (POST /user/change-password).
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("decoding request: %w: %w", apperr.ErrInvalidInput, err))
		return
	}

	set, err := h.svc.Accounts.ChangePassword(r.Context(), claimsFrom(r.Context()).UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg := "Password changed successfully"
	if set {
		msg = "Password set successfully"
	}
	writeJSON(w, http.StatusOK, changePasswordResponse{OK: true, Message: msg})
}

type recommendRequest struct {
	Emotion    string   `json:"emotion"`
	Confidence *float64 `json:"confidence"`
	Count      int      `json:"count"`
}

type recommendResponse struct {
	Emotion string          `json:"emotion"`
	Tracks  []spotify.Track `json:"tracks"`
}

// Recommend generates tracks for an emotion (POST /recommendations).
func (h *Handlers) Recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("decoding request: %w: %w", apperr.ErrInvalidInput, err))
		return
	}
	if req.Emotion == "" {
		h.writeError(w, r, fmt.Errorf("emotion is required: %w", apperr.ErrInvalidInput))
		return
	}

	gen, err := h.svc.Recommend.Recommend(r.Context(), recommend.Request{
		UserID:  userIDFrom(r.Context()),
		Emotion: req.Emotion,
		Count:   req.Count,
	}, req.Confidence)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recommendResponse{Emotion: gen.Emotion, Tracks: nonNil(gen.Tracks)})
}

// SessionHistory lists past recommendation sessions (GET /recommendations/history).
func (h *Handlers) SessionHistory(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 0)

	sessions, err := h.svc.History.Sessions(r.Context(), claimsFrom(r.Context()).UserID, page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": max(page, 1), "sessions": sessions})
}

// WeeklySummary returns the dominant emotion of the last week
// (GET /recommendations/weekly-summary).
func (h *Handlers) WeeklySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.History.WeeklySummary(r.Context(), claimsFrom(r.Context()).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AnalysisHistory lists past emotion analyses (GET /history).
func (h *Handlers) AnalysisHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History.Analyses(r.Context(), claimsFrom(r.Context()).UserID, queryInt(r, "limit", 0))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// Analyze classifies an uploaded photo and recommends tracks (POST /analyze).
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, analyze.MaxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(analyze.MaxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			h.writeError(w, r, fmt.Errorf("reading upload: %w", apperr.ErrPayloadTooLarge))
			return
		}
		h.writeError(w, r, fmt.Errorf("reading upload: %w: %w", apperr.ErrInvalidInput, err))
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		h.writeError(w, r, fmt.Errorf("reading photo field: %w: %w", apperr.ErrInvalidInput, err))
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, analyze.MaxImageBytes+1))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("reading photo: %w: %w", apperr.ErrInvalidInput, err))
		return
	}

	res, err := h.svc.Analyzer.Analyze(r.Context(), userIDFrom(r.Context()), image, queryInt(r, "count", 0))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Featured returns the first tracks of the configured public playlist
// (GET /catalog/featured).
func (h *Handlers) Featured(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PlaylistID == "" {
		h.writeError(w, r, fmt.Errorf("no featured playlist configured: %w", apperr.ErrNotFound))
		return
	}

	limit := queryInt(r, "limit", defaultFeaturedLimit)
	if limit <= 0 {
		limit = defaultFeaturedLimit
	}
	limit = min(limit, maxFeaturedLimit)

	tracks, err := h.svc.Catalog.PlaylistTracks(r.Context(), h.cfg.PlaylistID, h.cfg.Market, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": nonNil(tracks)})
}

func (h *Handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, apperr.ErrNotFound)
}

func (h *Handlers) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, apperr.Response{
		Tag:     "method_not_allowed",
		Message: "Method not allowed.",
	})
}

// writeError logs err, records it, and writes its public form.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := apperr.Public(err)
	if resp.Status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "tag", resp.Tag, "err", err)
	} else {
		h.logger.Warn("request rejected", "path", r.URL.Path, "tag", resp.Tag, "err", err)
	}
	h.recordError(r, resp.Status, err)
	writeJSON(w, resp.Status, resp)
}

// recordError stores the error best-effort.
func (h *Handlers) recordError(r *http.Request, status int, err error) {
	if h.svc.Errors == nil {
		return
	}
	entry := &db.ErrorLog{
		Method:    r.Method,
		Path:      r.URL.Path,
		Status:    status,
		Message:   err.Error(),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if rerr := h.svc.Errors.Record(r.Context(), entry); rerr != nil {
		h.logger.Warn("recording error log failed", "err", rerr)
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// queryInt parses an integer query parameter, returning def when absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func nonNil(tracks []spotify.Track) []spotify.Track {
	if tracks == nil {
		return []spotify.Track{}
	}
	return tracks
}
