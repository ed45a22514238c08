package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grmlab/gramscope/pkg/authflow"
	"github.com/grmlab/gramscope/pkg/gram"
	"github.com/grmlab/gramscope/pkg/imagecache"
	"github.com/grmlab/gramscope/pkg/remote"
	"github.com/grmlab/gramscope/pkg/storage"
	"github.com/grmlab/gramscope/pkg/syncer"
)

type fakeClient struct {
	loginErr error
	wantCode string
	profile  gram.Profile
	// block, when set, stalls list fetches until closed.
	block chan struct{}
}

func (f *fakeClient) Login(ctx context.Context, username, password, code string) (gram.Profile, remote.SessionBlob, error) {
	if f.loginErr != nil && code == "" {
		return gram.Profile{}, nil, f.loginErr
	}
	if f.wantCode != "" && code != f.wantCode {
		return gram.Profile{}, nil, remote.ErrInvalidCredentials
	}
	return f.profile, remote.SessionBlob(`{"token":"x"}`), nil
}

func (f *fakeClient) RequestChallenge(ctx context.Context) (remote.ChallengeChannel, error) {
	return remote.ChannelEmail, nil
}

func (f *fakeClient) SubmitChallengeCode(ctx context.Context, code string) (gram.Profile, remote.SessionBlob, error) {
	return f.profile, remote.SessionBlob(`{"token":"x"}`), nil
}

func (f *fakeClient) Validate(ctx context.Context) bool { return true }

func (f *fakeClient) ListFollowers(ctx context.Context, accountID string, opts remote.ListOptions) ([]gram.User, error) {
	if f.block != nil {
		<-f.block
	}
	return []gram.User{{ID: "a", Username: "amy"}}, nil
}

func (f *fakeClient) ListFollowing(ctx context.Context, accountID string, opts remote.ListOptions) ([]gram.User, error) {
	return []gram.User{{ID: "a", Username: "amy"}}, nil
}

func (f *fakeClient) GetProfile(ctx context.Context, accountID string) (gram.Profile, error) {
	return f.profile, nil
}

type fakeDialer struct{ client *fakeClient }

func (d *fakeDialer) NewClient(username string) remote.Client { return d.client }

func (d *fakeDialer) Restore(blob remote.SessionBlob) (remote.Client, error) {
	return d.client, nil
}

func newTestServer(t *testing.T, client *fakeClient) (*Server, http.Handler) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	flow := authflow.New(authflow.NewChallengeStore(), &fakeDialer{client: client}, authflow.Base64Cipher{}, log)
	images, err := imagecache.New(filepath.Join(t.TempDir(), "images"), log)
	if err != nil {
		t.Fatalf("imagecache.New: %v", err)
	}
	sy := syncer.New(db, flow, syncer.NewRegistry(), nil, syncer.Config{
		Cooldown: time.Hour,
		Jitter:   func(min, max time.Duration) time.Duration { return 0 },
	}, log)

	srv := New(db, flow, sy, images, "test-secret", log)
	return srv, srv.Handler()
}

func doJSON(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, h http.Handler) string {
	t.Helper()
	w := doJSON(h, "POST", "/api/auth/login", "", `{"username":"alice","password":"hunter2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body)
	}
	var resp struct {
		Status string `json:"status"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if resp.Status != "authenticated" || resp.Token == "" {
		t.Fatalf("login response = %s", w.Body)
	}
	return resp.Token
}

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestServer(t, &fakeClient{})
	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		if w := doJSON(h, "GET", path, "", ""); w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, w.Code)
		}
	}
}

func TestLoginAndAuthedAccess(t *testing.T) {
	client := &fakeClient{profile: gram.Profile{ID: "42", Username: "alice"}}
	srv, h := newTestServer(t, client)

	token := loginToken(t, h)

	// The account row was persisted with the sealed session.
	acct, err := srv.DB.GetAccount(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.SessionBlob == "" {
		t.Fatal("session blob not stored")
	}

	if w := doJSON(h, "GET", "/api/analytics/profile", token, ""); w.Code != http.StatusOK {
		t.Fatalf("profile status = %d, body %s", w.Code, w.Body)
	}
}

func TestAuthRequired(t *testing.T) {
	_, h := newTestServer(t, &fakeClient{})

	if w := doJSON(h, "GET", "/api/analytics/overview", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", w.Code)
	}
	if w := doJSON(h, "GET", "/api/analytics/overview", "garbage", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", w.Code)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	_, h := newTestServer(t, &fakeClient{loginErr: remote.ErrInvalidCredentials})

	w := doJSON(h, "POST", "/api/auth/login", "", `{"username":"alice","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
}

func TestTwoFactorFlowOverHTTP(t *testing.T) {
	client := &fakeClient{
		loginErr: remote.ErrTwoFactorRequired,
		wantCode: "123456",
		profile:  gram.Profile{ID: "42", Username: "alice"},
	}
	_, h := newTestServer(t, client)

	w := doJSON(h, "POST", "/api/auth/login", "", `{"username":"alice","password":"hunter2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body)
	}
	var step struct {
		Status       string `json:"status"`
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &step); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if step.Status != "two_factor_required" || step.SessionToken == "" {
		t.Fatalf("step response = %s", w.Body)
	}

	body := `{"session_token":"` + step.SessionToken + `","code":"123456","username":"alice","password":"hunter2"}`
	w = doJSON(h, "POST", "/api/auth/verify-2fa", "", body)
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", w.Code, w.Body)
	}
	var done struct {
		Status string `json:"status"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &done); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if done.Status != "authenticated" || done.Token == "" {
		t.Fatalf("verify response = %s", w.Body)
	}
}

func TestOverviewBeforeFirstSync(t *testing.T) {
	client := &fakeClient{profile: gram.Profile{ID: "42", Username: "alice"}}
	_, h := newTestServer(t, client)
	token := loginToken(t, h)

	w := doJSON(h, "GET", "/api/analytics/overview", token, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before first sync", w.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	client := &fakeClient{profile: gram.Profile{ID: "42", Username: "alice"}}
	srv, h := newTestServer(t, client)
	token := loginToken(t, h)

	w := doJSON(h, "POST", "/api/analytics/sync", token, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("sync status = %d, body %s", w.Code, w.Body)
	}

	// Wait for the background run, then the overview must be readable.
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, _ := srv.Syncer.Registry().Get("42")
		if !st.IsSyncing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sync never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = doJSON(h, "GET", "/api/analytics/overview", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("overview status = %d, body %s", w.Code, w.Body)
	}

	// Immediately after a completed sync the cooldown declines a new run.
	// That is a normal answer, not an error: 200 with success false and a
	// retry hint.
	w = doJSON(h, "POST", "/api/analytics/sync", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("cooldown status = %d, body %s", w.Code, w.Body)
	}
	var declined struct {
		Success              *bool `json:"success"`
		SecondsUntilNextSync int   `json:"seconds_until_next_sync"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &declined); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if declined.Success == nil || *declined.Success || declined.SecondsUntilNextSync < 1 {
		t.Fatalf("cooldown response = %s", w.Body)
	}
	w = doJSON(h, "GET", "/api/analytics/can-sync", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("can-sync status = %d", w.Code)
	}
	var cs struct {
		CanSync bool `json:"can_sync"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if cs.CanSync {
		t.Fatal("can_sync should be false during cooldown")
	}
}

func TestSyncAlreadyInProgress(t *testing.T) {
	client := &fakeClient{
		profile: gram.Profile{ID: "42", Username: "alice"},
		block:   make(chan struct{}),
	}
	srv, h := newTestServer(t, client)
	token := loginToken(t, h)

	if w := doJSON(h, "POST", "/api/analytics/sync", token, ""); w.Code != http.StatusAccepted {
		t.Fatalf("first sync status = %d, body %s", w.Code, w.Body)
	}

	w := doJSON(h, "POST", "/api/analytics/sync", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("second sync status = %d, body %s", w.Code, w.Body)
	}
	var declined struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &declined); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if declined.Success == nil || *declined.Success || declined.Message == "" {
		t.Fatalf("in-progress response = %s", w.Body)
	}

	close(client.block)
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, _ := srv.Syncer.Registry().Get("42")
		if !st.IsSyncing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sync never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListEndpointPagination(t *testing.T) {
	client := &fakeClient{profile: gram.Profile{ID: "42", Username: "alice"}}
	srv, h := newTestServer(t, client)
	token := loginToken(t, h)

	report := gram.Report{
		NotFollowingBack: []gram.User{
			{ID: "1", Username: "amy"},
			{ID: "2", Username: "bob"},
			{ID: "3", Username: "cat"},
		},
	}
	if err := srv.DB.UpsertAnalytics(context.Background(), "42", report); err != nil {
		t.Fatalf("UpsertAnalytics: %v", err)
	}

	w := doJSON(h, "GET", "/api/analytics/not-following-back?limit=2&offset=1", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var page struct {
		Count int         `json:"count"`
		Users []gram.User `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if page.Count != 3 {
		t.Fatalf("count = %d, want the full list size", page.Count)
	}
	if len(page.Users) != 2 || page.Users[0].Username != "bob" || page.Users[1].Username != "cat" {
		t.Fatalf("page = %+v", page.Users)
	}

	// Offset past the end yields an empty page, not an error.
	w = doJSON(h, "GET", "/api/analytics/not-following-back?offset=10", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(page.Users) != 0 {
		t.Fatalf("out-of-range page = %+v", page.Users)
	}
}

func TestLoginRateLimit(t *testing.T) {
	_, h := newTestServer(t, &fakeClient{loginErr: remote.ErrInvalidCredentials})

	var last int
	for i := 0; i < 11; i++ {
		w := doJSON(h, "POST", "/api/auth/login", "", `{"username":"alice","password":"wrong"}`)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("11th login status = %d, want 429", last)
	}
}

func TestLogout(t *testing.T) {
	client := &fakeClient{profile: gram.Profile{ID: "42", Username: "alice"}}
	srv, h := newTestServer(t, client)
	token := loginToken(t, h)

	if w := doJSON(h, "POST", "/api/auth/logout", token, ""); w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	acct, err := srv.DB.GetAccount(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.SessionBlob != "" {
		t.Fatal("session blob survived logout")
	}
}

func TestReadyReportsDBFailure(t *testing.T) {
	srv, _ := newTestServer(t, &fakeClient{})
	srv.DB.Close()
	h := srv.Handler()

	w := doJSON(h, "GET", "/health/ready", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status after close = %d, want 503", w.Code)
	}
}
