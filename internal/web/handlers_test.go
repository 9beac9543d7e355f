package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/justestif/go-spotify-mood-recommender/internal/account"
	"github.com/justestif/go-spotify-mood-recommender/internal/analyze"
	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/history"
	"github.com/justestif/go-spotify-mood-recommender/internal/identity"
	"github.com/justestif/go-spotify-mood-recommender/internal/recommend"
	"github.com/justestif/go-spotify-mood-recommender/internal/session"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
)

const frontend = "http://app.test"

type fakeAuth struct{}

func (fakeAuth) AuthURL(state string) string {
	return "https://accounts.test/authorize?state=" + state
}

type fakeResolver struct {
	res *identity.Result
	err error
	got []identity.Callback
}

func (f *fakeResolver) Resolve(ctx context.Context, cb identity.Callback) (*identity.Result, error) {
	f.got = append(f.got, cb)
	return f.res, f.err
}

// fakeAccounts signs real session tokens so follow-up requests see the
// account.
type fakeAccounts struct {
	issuer *session.Issuer
	err    error

	reg     account.Registration
	change  account.ProfileChange
	userID  int64
	current string
	next    string
	set     bool
}

func (f *fakeAccounts) session(id int64, email, username string) (*account.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	token, err := f.issuer.Issue(id, email, username)
	if err != nil {
		return nil, err
	}
	return &account.Session{User: account.User{ID: id, Email: email, Username: username}, Token: token}, nil
}

func (f *fakeAccounts) Register(ctx context.Context, reg account.Registration) (*account.Session, error) {
	f.reg = reg
	return f.session(21, reg.Email, "new_user")
}

func (f *fakeAccounts) Login(ctx context.Context, email, password string) (*account.Session, error) {
	f.reg = account.Registration{Email: email, Password: password}
	return f.session(21, email, "new_user")
}

func (f *fakeAccounts) Profile(ctx context.Context, userID int64) (*account.User, error) {
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	return &account.User{ID: userID, Email: "u@example.com", Username: "user"}, nil
}

func (f *fakeAccounts) UpdateProfile(ctx context.Context, userID int64, change account.ProfileChange) (*account.Session, error) {
	f.userID, f.change = userID, change
	username := "user"
	if change.Username != nil {
		username = *change.Username
	}
	return f.session(userID, "u@example.com", username)
}

func (f *fakeAccounts) ChangePassword(ctx context.Context, userID int64, current, next string) (bool, error) {
	f.userID, f.current, f.next = userID, current, next
	return f.set, f.err
}

type fakeRecommender struct {
	tracks []spotify.Track
	err    error
	got    []recommend.Request
}

func (f *fakeRecommender) Recommend(ctx context.Context, req recommend.Request, confidence *float64) (*recommend.Generation, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &recommend.Generation{Emotion: recommend.Normalize(req.Emotion), Tracks: f.tracks}, nil
}

type fakeHistory struct {
	userID int64
	page   int
	limit  int
}

func (f *fakeHistory) Sessions(ctx context.Context, userID int64, page, limit int) ([]history.SessionSummary, error) {
	f.userID, f.page, f.limit = userID, page, limit
	return []history.SessionSummary{{ID: "s1", Emotion: "HAPPY", Tracks: []spotify.Track{}}}, nil
}

func (f *fakeHistory) Analyses(ctx context.Context, userID int64, limit int) ([]history.AnalysisEntry, error) {
	f.userID, f.limit = userID, limit
	return []history.AnalysisEntry{}, nil
}

func (f *fakeHistory) WeeklySummary(ctx context.Context, userID int64) (*history.WeeklySummary, error) {
	f.userID = userID
	e := "SAD"
	return &history.WeeklySummary{Emotion: &e, Count: 3}, nil
}

type fakeAnalyzer struct {
	image  []byte
	userID *int64
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, userID *int64, image []byte, count int) (*analyze.Result, error) {
	f.image, f.userID = image, userID
	if f.err != nil {
		return nil, f.err
	}
	e, c := "HAPPY", 0.9
	return &analyze.Result{Emotion: &e, Confidence: &c, Tracks: []spotify.Track{{ID: "t1"}}}, nil
}

type fakeCatalog struct {
	limit int
}

func (f *fakeCatalog) PlaylistTracks(ctx context.Context, playlistID, market string, limit int) ([]spotify.Track, error) {
	f.limit = limit
	return []spotify.Track{{ID: "p1"}}, nil
}

type fakeErrors struct {
	logs []db.ErrorLog
}

func (f *fakeErrors) Record(ctx context.Context, e *db.ErrorLog) error {
	f.logs = append(f.logs, *e)
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type testEnv struct {
	server   *Server
	issuer   *session.Issuer
	resolver *fakeResolver
	accounts *fakeAccounts
	rec      *fakeRecommender
	history  *fakeHistory
	analyzer *fakeAnalyzer
	catalog  *fakeCatalog
	errors   *fakeErrors
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	issuer := session.NewIssuer("test-secret", time.Hour)
	env := &testEnv{
		issuer:   issuer,
		resolver: &fakeResolver{},
		accounts: &fakeAccounts{issuer: issuer},
		rec:      &fakeRecommender{tracks: []spotify.Track{{ID: "t1"}}},
		history:  &fakeHistory{},
		analyzer: &fakeAnalyzer{},
		catalog:  &fakeCatalog{},
		errors:   &fakeErrors{},
	}
	env.server = NewServer(ServerConfig{
		FrontendURL: frontend,
		PlaylistID:  "pl1",
		Market:      "MX",
	}, Services{
		Auth:      fakeAuth{},
		Resolver:  env.resolver,
		Sessions:  env.issuer,
		Accounts:  env.accounts,
		Recommend: env.rec,
		History:   env.history,
		Analyzer:  env.analyzer,
		Catalog:   env.catalog,
		Errors:    env.errors,
		Health:    fakePinger{},
	})
	return env
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, r)
	return w
}

func (e *testEnv) signIn(t *testing.T, r *http.Request, userID int64) {
	t.Helper()
	token, err := e.issuer.Issue(userID, "u@example.com", "user")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding body %q: %v", w.Body.String(), err)
	}
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	env.server.handlers.svc.Health = fakePinger{err: errors.New("down")}
	w = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestStart(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/auth/spotify/start", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	state := cookieNamed(w, session.StateCookieName)
	if state == nil || state.Value == "" {
		t.Fatal("state cookie not set")
	}
	loc := w.Header().Get("Location")
	if !strings.HasSuffix(loc, "state="+state.Value) {
		t.Errorf("Location = %q, want state %q", loc, state.Value)
	}
}

func callbackRequest(state, cookieState, code string) *http.Request {
	q := url.Values{}
	q.Set("state", state)
	if code != "" {
		q.Set("code", code)
	}
	r := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?"+q.Encode(), nil)
	if cookieState != "" {
		r.AddCookie(&http.Cookie{Name: session.StateCookieName, Value: cookieState})
	}
	return r
}

func TestCallback_Login(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.res = &identity.Result{Outcome: identity.OutcomeLogin, AccountID: 9, SessionToken: "jwt"}

	w := env.do(callbackRequest("abc", "abc", "code-1"))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != frontend+"/analyze?login=spotify" {
		t.Errorf("Location = %q", loc)
	}
	c := cookieNamed(w, session.CookieName)
	if c == nil || c.Value != "jwt" {
		t.Errorf("session cookie = %+v, want jwt", c)
	}
	if len(env.resolver.got) != 1 || env.resolver.got[0].Code != "code-1" || env.resolver.got[0].SessionUserID != nil {
		t.Errorf("Resolve calls = %+v", env.resolver.got)
	}
}

func TestCallback_LinkUsesSession(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.res = &identity.Result{Outcome: identity.OutcomeLinked, AccountID: 4}

	r := callbackRequest("abc", "abc", "code-1")
	env.signIn(t, r, 4)
	w := env.do(r)

	if loc := w.Header().Get("Location"); loc != frontend+"/analyze?linked=ok" {
		t.Errorf("Location = %q", loc)
	}
	if c := cookieNamed(w, session.CookieName); c != nil {
		t.Errorf("link outcome set a session cookie: %+v", c)
	}
	got := env.resolver.got[0].SessionUserID
	if got == nil || *got != 4 {
		t.Errorf("SessionUserID = %v, want 4", got)
	}
}

func TestCallback_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		req     *http.Request
		wantTag string
	}{
		{"state mismatch", callbackRequest("abc", "xyz", "code"), "invalid_input"},
		{"missing state cookie", callbackRequest("abc", "", "code"), "invalid_input"},
		{"missing code", callbackRequest("abc", "abc", ""), "invalid_grant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(tt.req)

			if loc := w.Header().Get("Location"); loc != frontend+"/analyze?error="+tt.wantTag {
				t.Errorf("Location = %q, want error=%s", loc, tt.wantTag)
			}
			if len(env.resolver.got) != 0 {
				t.Error("resolver called for rejected callback")
			}
		})
	}
}

func TestCallback_ResolveError(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.err = fmt.Errorf("exchanging code: %w", apperr.ErrInvalidGrant)

	w := env.do(callbackRequest("abc", "abc", "used"))

	if loc := w.Header().Get("Location"); loc != frontend+"/analyze?error=invalid_grant" {
		t.Errorf("Location = %q", loc)
	}
	if len(env.errors.logs) != 1 || env.errors.logs[0].Status != http.StatusBadRequest {
		t.Errorf("error logs = %+v", env.errors.logs)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	var anon struct {
		User *userView `json:"user"`
	}
	decode(t, w, &anon)
	if anon.User != nil {
		t.Errorf("anonymous user = %+v, want null", anon.User)
	}

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	env.signIn(t, r, 12)
	w = env.do(r)
	var me struct {
		User *userView `json:"user"`
	}
	decode(t, w, &me)
	if me.User == nil || me.User.ID != 12 || me.User.Username != "user" {
		t.Errorf("user = %+v, want id 12", me.User)
	}
}

func TestMe_InvalidCookieIsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "garbage"})

	w := env.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"user":null`) {
		t.Errorf("body = %s, want null user", w.Body.String())
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	c := cookieNamed(w, session.CookieName)
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie = %+v, want cleared", c)
	}
}

func jsonRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(jsonRequest(http.MethodPost, "/auth/register", `{"email":"ana@example.com","password":"correct horse"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if env.accounts.reg.Email != "ana@example.com" || env.accounts.reg.Password != "correct horse" {
		t.Errorf("registration = %+v", env.accounts.reg)
	}

	var got struct {
		User account.User `json:"user"`
	}
	decode(t, w, &got)
	if got.User.ID != 21 || got.User.Email != "ana@example.com" {
		t.Errorf("user = %+v", got.User)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("response leaks password fields: %s", w.Body.String())
	}

	cookie := cookieNamed(w, session.CookieName)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	claims, err := env.issuer.Verify(cookie.Value)
	if err != nil || claims.UserID != 21 {
		t.Errorf("cookie claims = %+v, err = %v", claims, err)
	}
}

func TestLogin_ThenMe(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(jsonRequest(http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"correct horse"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	cookie := cookieNamed(w, session.CookieName)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.AddCookie(cookie)
	w = env.do(r)

	var got struct {
		User *userView `json:"user"`
	}
	decode(t, w, &got)
	if got.User == nil || got.User.ID != 21 || got.User.Email != "ana@example.com" {
		t.Errorf("me = %+v", got.User)
	}
}

func TestAccountErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		method     string
		target     string
		body       string
		signedIn   bool
		wantStatus int
		wantTag    string
	}{
		{
			name:       "bad credentials",
			err:        account.ErrInvalidCredentials,
			method:     http.MethodPost,
			target:     "/auth/login",
			body:       `{"email":"ana@example.com","password":"nope"}`,
			wantStatus: http.StatusUnauthorized,
			wantTag:    "unauthorized",
		},
		{
			name:       "email in use",
			err:        fmt.Errorf("registering account: %w", db.ErrEmailTaken),
			method:     http.MethodPost,
			target:     "/auth/register",
			body:       `{"email":"ana@example.com","password":"correct horse"}`,
			wantStatus: http.StatusConflict,
			wantTag:    "conflict",
		},
		{
			name:       "malformed body",
			method:     http.MethodPost,
			target:     "/auth/register",
			body:       `{"email":`,
			wantStatus: http.StatusBadRequest,
			wantTag:    "invalid_input",
		},
		{
			name:       "wrong current password",
			err:        fmt.Errorf("current password is incorrect: %w", apperr.ErrInvalidInput),
			method:     http.MethodPost,
			target:     "/user/change-password",
			body:       `{"currentPassword":"x","newPassword":"battery staple"}`,
			signedIn:   true,
			wantStatus: http.StatusBadRequest,
			wantTag:    "invalid_input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.accounts.err = tt.err
			r := jsonRequest(tt.method, tt.target, tt.body)
			if tt.signedIn {
				env.signIn(t, r, 4)
			}

			w := env.do(r)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var got apperr.Response
			decode(t, w, &got)
			if got.Tag != tt.wantTag {
				t.Errorf("tag = %q, want %q", got.Tag, tt.wantTag)
			}
			if cookieNamed(w, session.CookieName) != nil {
				t.Error("session cookie set on failure")
			}
		})
	}
}

func TestUserRoutes_RequireSession(t *testing.T) {
	env := newTestEnv(t)
	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/user/profile", nil),
		jsonRequest(http.MethodPatch, "/user/profile", `{"username":"x"}`),
		jsonRequest(http.MethodPost, "/user/change-password", `{"newPassword":"battery staple"}`),
	} {
		if w := env.do(r); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", r.Method, r.URL.Path, w.Code)
		}
	}
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/user/profile", nil)
	env.signIn(t, r, 4)

	w := env.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if env.accounts.userID != 4 {
		t.Errorf("profile loaded for user %d, want 4", env.accounts.userID)
	}
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	r := jsonRequest(http.MethodPatch, "/user/profile", `{"username":"ana_m"}`)
	env.signIn(t, r, 4)

	w := env.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if env.accounts.userID != 4 || env.accounts.change.Username == nil || *env.accounts.change.Username != "ana_m" {
		t.Errorf("change = %+v for user %d", env.accounts.change, env.accounts.userID)
	}
	if env.accounts.change.Email != nil {
		t.Errorf("Email = %q, want absent", *env.accounts.change.Email)
	}

	cookie := cookieNamed(w, session.CookieName)
	if cookie == nil {
		t.Fatal("session cookie not refreshed")
	}
	claims, err := env.issuer.Verify(cookie.Value)
	if err != nil || claims.Username != "ana_m" {
		t.Errorf("cookie claims = %+v, err = %v", claims, err)
	}
}

func TestChangePassword(t *testing.T) {
	tests := []struct {
		name        string
		set         bool
		wantMessage string
	}{
		{"changed", false, "Password changed successfully"},
		{"first local password", true, "Password set successfully"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.accounts.set = tt.set
			r := jsonRequest(http.MethodPost, "/user/change-password", `{"currentPassword":"correct horse","newPassword":"battery staple"}`)
			env.signIn(t, r, 4)

			w := env.do(r)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if env.accounts.userID != 4 || env.accounts.current != "correct horse" || env.accounts.next != "battery staple" {
				t.Errorf("called with %d/%q/%q", env.accounts.userID, env.accounts.current, env.accounts.next)
			}

			var got changePasswordResponse
			decode(t, w, &got)
			if !got.OK || got.Message != tt.wantMessage {
				t.Errorf("response = %+v", got)
			}
		})
	}
}

func TestRecommend(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodPost, "/recommendations", strings.NewReader(`{"emotion":"happy","confidence":0.8}`))
	env.signIn(t, r, 5)

	w := env.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp recommendResponse
	decode(t, w, &resp)
	if resp.Emotion != "HAPPY" || len(resp.Tracks) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if got := env.rec.got[0].UserID; got == nil || *got != 5 {
		t.Errorf("UserID = %v, want 5", got)
	}
}

func TestRecommend_Anonymous(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodPost, "/recommendations", strings.NewReader(`{"emotion":"calm"}`))

	w := env.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.rec.got[0].UserID != nil {
		t.Error("anonymous request carried a user id")
	}
}

func TestRecommend_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		recErr     error
		wantStatus int
		wantTag    string
	}{
		{"malformed", `{`, nil, http.StatusBadRequest, "invalid_input"},
		{"missing emotion", `{}`, nil, http.StatusBadRequest, "invalid_input"},
		{"catalog timeout", `{"emotion":"sad"}`, apperr.ErrUpstreamTimeout, http.StatusGatewayTimeout, "upstream_timeout"},
		{"persistence", `{"emotion":"sad"}`, apperr.ErrPersistence, http.StatusInternalServerError, "persistence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.rec.err = tt.recErr

			w := env.do(httptest.NewRequest(http.MethodPost, "/recommendations", strings.NewReader(tt.body)))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp apperr.Response
			decode(t, w, &resp)
			if resp.Tag != tt.wantTag {
				t.Errorf("tag = %q, want %q", resp.Tag, tt.wantTag)
			}
			if len(env.errors.logs) != 1 {
				t.Errorf("recorded %d error logs, want 1", len(env.errors.logs))
			}
		})
	}
}

func TestHistoryRoutes_RequireSession(t *testing.T) {
	for _, path := range []string{"/recommendations/history", "/recommendations/weekly-summary", "/history"} {
		t.Run(path, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(httptest.NewRequest(http.MethodGet, path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestSessionHistory(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/recommendations/history?page=2&limit=5", nil)
	env.signIn(t, r, 8)

	w := env.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.history.userID != 8 || env.history.page != 2 || env.history.limit != 5 {
		t.Errorf("history called with %+v", env.history)
	}
}

func TestWeeklySummary(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/recommendations/weekly-summary", nil)
	env.signIn(t, r, 8)

	w := env.do(r)
	var got history.WeeklySummary
	decode(t, w, &got)
	if got.Emotion == nil || *got.Emotion != "SAD" || got.Count != 3 {
		t.Errorf("summary = %+v", got)
	}
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "face.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t)
	r := multipartRequest(t, "photo", []byte("jpeg-bytes"))
	env.signIn(t, r, 3)

	w := env.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if string(env.analyzer.image) != "jpeg-bytes" {
		t.Errorf("image = %q", env.analyzer.image)
	}
	if env.analyzer.userID == nil || *env.analyzer.userID != 3 {
		t.Errorf("userID = %v, want 3", env.analyzer.userID)
	}

	var res analyze.Result
	decode(t, w, &res)
	if res.Emotion == nil || *res.Emotion != "HAPPY" {
		t.Errorf("result = %+v", res)
	}
}

func TestAnalyze_MissingPhoto(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(multipartRequest(t, "picture", []byte("jpeg")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAnalyze_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(multipartRequest(t, "photo", make([]byte, analyze.MaxImageBytes+2<<20)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestFeatured(t *testing.T) {
	tests := []struct {
		query     string
		wantLimit int
	}{
		{"", 10},
		{"?limit=3", 3},
		{"?limit=500", 50},
		{"?limit=0", 10},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(httptest.NewRequest(http.MethodGet, "/catalog/featured"+tt.query, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if env.catalog.limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", env.catalog.limit, tt.wantLimit)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodOptions, "/recommendations", nil)
	r.Header.Set("Origin", frontend)
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)

	w := env.do(r)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != frontend {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPatch) {
		t.Errorf("Allow-Methods = %q, want PATCH for profile edits", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("Origin", "http://evil.test")
	w = env.do(r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for foreign origin", got)
	}
}
