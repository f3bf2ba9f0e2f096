package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"numtrack/internal/auth"
	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
	"numtrack/internal/snapshots/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendOTP(ctx context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[to] = code
	return nil
}

func (m *captureMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

// flakyRepo wraps a repository and fails saves or loads on demand.
type flakyRepo struct {
	snapshots.Repository
	mu       sync.Mutex
	failSave bool
	failLoad bool
}

func (f *flakyRepo) LoadSnapshot(ctx context.Context, owner string) (ledger.Snapshot, error) {
	f.mu.Lock()
	fail := f.failLoad
	f.mu.Unlock()
	if fail {
		return ledger.Snapshot{}, errors.New("connection refused")
	}
	return f.Repository.LoadSnapshot(ctx, owner)
}

func (f *flakyRepo) SaveSnapshot(ctx context.Context, owner string, snap ledger.Snapshot) error {
	f.mu.Lock()
	fail := f.failSave
	f.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return f.Repository.SaveSnapshot(ctx, owner, snap)
}

func (f *flakyRepo) set(save, load bool) {
	f.mu.Lock()
	f.failSave, f.failLoad = save, load
	f.mu.Unlock()
}

type testEnv struct {
	srv    *Server
	repo   *flakyRepo
	mailer *captureMailer
	tokens *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mailer := &captureMailer{}
	repo := &flakyRepo{Repository: memory.New()}
	tokens := auth.NewTokenIssuer(testSecret, time.Hour)
	srv, err := NewServer(Config{
		Addr:       ":0",
		Repository: repo,
		OTP: auth.NewOTPService(mailer, auth.OTPConfig{
			TTL:         time.Minute,
			MaxAttempts: 3,
			ResendAfter: time.Minute,
			HashCost:    bcrypt.MinCost,
		}),
		Tokens:                tokens,
		APIRequestsPerMinute:  6000,
		AuthRequestsPerMinute: 600,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, repo: repo, mailer: mailer, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.10:4000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := e.tokens.Issue(owner, owner+"@example.com")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body)
		}
	}
	if rr := env.do(t, http.MethodGet, "/healthz", "", nil); rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	rr := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "http_requests_total") {
		t.Fatalf("metrics status=%d body=%s", rr.Code, rr.Body)
	}
}

func TestLoginVerifyFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "Ada@Example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rr.Code, rr.Body)
	}
	login := decode[auth.LoginResponse](t, rr)
	if login.UserID != auth.UserID("ada@example.com") {
		t.Fatalf("user id = %q", login.UserID)
	}

	// Second login inside the cooldown.
	rr = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@example.com"})
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("cooldown status=%d headers=%v", rr.Code, rr.Header())
	}

	rr = env.do(t, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"userId": login.UserID, "otp": "000000"})
	code := env.mailer.code("ada@example.com")
	if code == "000000" {
		t.Skip("generated code collided with the wrong guess")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong otp status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"userId": login.UserID, "otp": code})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify status=%d body=%s", rr.Code, rr.Body)
	}
	verified := decode[auth.VerifyResponse](t, rr)
	if verified.User.ID != login.UserID || verified.User.Email != "ada@example.com" {
		t.Fatalf("unexpected user: %+v", verified.User)
	}

	rr = env.do(t, http.MethodGet, "/api/data", verified.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("data with issued token status=%d", rr.Code)
	}
}

func TestAuthValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		path   string
		body   any
		status int
		field  string
	}{
		{"bad email", "/api/auth/login", map[string]string{"email": "nope"}, http.StatusBadRequest, "email"},
		{"short otp", "/api/auth/verify-otp", map[string]string{"userId": auth.UserID("a@b.co"), "otp": "12"}, http.StatusBadRequest, "otp"},
		{"bad user id", "/api/auth/resend-otp", map[string]string{"userId": "x"}, http.StatusBadRequest, "userId"},
		{"unknown field", "/api/auth/login", `{"email":"a@b.co","admin":true}`, http.StatusBadRequest, ""},
		{"no pending login", "/api/auth/resend-otp", map[string]string{"userId": auth.UserID("a@b.co")}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.path, "", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.status, rr.Body)
			}
			if tt.field != "" {
				body := decode[ErrorBody](t, rr)
				if _, ok := body.Fields[tt.field]; !ok {
					t.Fatalf("expected field %q in %+v", tt.field, body)
				}
			}
		})
	}
}

func TestDataRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(t, http.MethodGet, "/api/data", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/data", "garbage", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestPostDataParserPath(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "owner-1")

	rr := env.do(t, http.MethodPost, "/api/data", tok, map[string]string{"numbers": "05,7.05", "value": "12,5"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	resp := decode[mutationResponse](t, rr)
	if !resp.Synced || strings.Join(resp.Labels, ",") != "05,07,05" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Data.Numbers["05"] != 25 || resp.Data.Numbers["07"] != 12.5 {
		t.Fatalf("totals = %v", resp.Data.Numbers)
	}

	tests := []struct {
		name string
		body map[string]string
		want string
	}{
		{"invalid label rejects all", map[string]string{"numbers": "01,100", "value": "1"}, "100"},
		{"no labels", map[string]string{"numbers": "abc", "value": "1"}, "no valid numbers"},
		{"bad value", map[string]string{"numbers": "01", "value": "x"}, "valid number"},
		{"missing value", map[string]string{"numbers": "01"}, "valid number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/data", tok, tt.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
			}
			if body := decode[ErrorBody](t, rr); !strings.Contains(body.Error, tt.want) {
				t.Fatalf("error %q does not mention %q", body.Error, tt.want)
			}
		})
	}

	rr = env.do(t, http.MethodGet, "/api/data", tok, nil)
	data := decode[dataResponse](t, rr)
	if len(data.History["05"]) != 2 || len(data.History) != 2 {
		t.Fatalf("failed posts changed state: %+v", data)
	}
}

func TestPostDataEntryPathAndOwnersIsolated(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.token(t, "owner-a"), env.token(t, "owner-b")

	env.do(t, http.MethodPost, "/api/data", a, map[string]any{"numberKey": "3", "value": 10, "isAddValue": true})
	env.do(t, http.MethodPost, "/api/data", a, map[string]any{"numberKey": 3, "value": 5})
	rr := env.do(t, http.MethodPost, "/api/data", a, map[string]any{"numberKey": "04", "value": 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}

	rr = env.do(t, http.MethodPost, "/api/data", a, map[string]any{"numberKey": "03", "value": 7, "isAddValue": false})
	data := decode[mutationResponse](t, rr).Data
	if got := data.History["03"]; len(got) != 1 || got[0] != 7 {
		t.Fatalf("replace left history %v", got)
	}

	rr = env.do(t, http.MethodGet, "/api/data", b, nil)
	if other := decode[dataResponse](t, rr); len(other.Numbers) != 0 {
		t.Fatalf("owner b sees owner a data: %+v", other)
	}
}

func TestEditDeleteThresholdAndSummary(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "owner-1")
	env.do(t, http.MethodPost, "/api/data", tok, map[string]string{"numbers": "05", "value": "30"})
	env.do(t, http.MethodPost, "/api/data", tok, map[string]string{"numbers": "05", "value": "80"})
	env.do(t, http.MethodPost, "/api/data", tok, map[string]string{"numbers": "09", "value": "4"})

	rr := env.do(t, http.MethodPut, "/api/threshold", tok, map[string]any{"threshold": 50})
	if rr.Code != http.StatusOK {
		t.Fatalf("threshold status=%d body=%s", rr.Code, rr.Body)
	}

	rr = env.do(t, http.MethodGet, "/api/summary", tok, nil)
	sum := decode[ledger.Summary](t, rr)
	if sum.ConsolidatedExcess != "05(60)" || sum.TotalKept != 54 || !sum.ShowBreakdown {
		t.Fatalf("summary = %+v", sum)
	}

	rr = env.do(t, http.MethodPut, "/api/data/edit", tok, map[string]any{"numberKey": "05", "index": 1, "value": "20"})
	if rr.Code != http.StatusOK {
		t.Fatalf("edit status=%d body=%s", rr.Code, rr.Body)
	}
	if got := decode[mutationResponse](t, rr).Data.Numbers["05"]; got != 50 {
		t.Fatalf("total after edit = %v", got)
	}

	if rr := env.do(t, http.MethodPut, "/api/data/edit", tok, map[string]any{"numberKey": "05", "index": 9, "value": 1}); rr.Code != http.StatusConflict {
		t.Fatalf("stale index status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodPut, "/api/data/edit", tok, map[string]any{"numberKey": "05"}); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing index status=%d", rr.Code)
	}

	if rr := env.do(t, http.MethodDelete, "/api/data/delete/05/0", tok, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete entry status=%d body=%s", rr.Code, rr.Body)
	}
	if rr := env.do(t, http.MethodDelete, "/api/data/delete/9", tok, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete label status=%d body=%s", rr.Code, rr.Body)
	}
	if rr := env.do(t, http.MethodDelete, "/api/data/delete/09", tok, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("delete absent label status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/data/delete/123", tok, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("delete invalid label status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/data/edit", tok, map[string]bool{"clearAll": true})
	data := decode[mutationResponse](t, rr).Data
	if len(data.Numbers) != 0 || data.Threshold != 0 {
		t.Fatalf("reset left state: %+v", data)
	}
}

func TestSyncFailureKeepsChange(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "owner-1")
	env.do(t, http.MethodGet, "/api/data", tok, nil)

	env.repo.set(true, false)
	rr := env.do(t, http.MethodPost, "/api/data", tok, map[string]string{"numbers": "01", "value": "3"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	resp := decode[mutationResponse](t, rr)
	if resp.Synced || resp.Warning == "" || resp.Data.Numbers["01"] != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if env.srv.appMetrics.syncFailures.Load() != 1 {
		t.Fatal("sync failure not counted")
	}
}

func TestLoadFailureIsNotCached(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "owner-1")

	env.repo.set(false, true)
	if rr := env.do(t, http.MethodGet, "/api/data", tok, nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	if env.srv.stores.Size() != 0 {
		t.Fatal("failed load must not be cached")
	}

	env.repo.set(false, false)
	if rr := env.do(t, http.MethodGet, "/api/data", tok, nil); rr.Code != http.StatusOK {
		t.Fatalf("status after recovery=%d", rr.Code)
	}
}

func TestStoreRehydratesAfterEviction(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "owner-1")
	env.do(t, http.MethodPost, "/api/data", tok, map[string]string{"numbers": "42", "value": "8"})

	env.srv.stores.Delete("owner-1")
	rr := env.do(t, http.MethodGet, "/api/data", tok, nil)
	if got := decode[dataResponse](t, rr).Numbers["42"]; got != 8 {
		t.Fatalf("rehydrated total = %v", got)
	}
	if env.srv.appMetrics.storeLoads.Load() != 2 {
		t.Fatalf("store loads = %d", env.srv.appMetrics.storeLoads.Load())
	}
}

func TestParseEndpoint(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name       string
		prev, raw  string
		wantText   string
		wantLabels []string
		wantErr    bool
	}{
		{"appends comma after pair", "0", "05", "05,", []string{"05"}, false},
		{"filters letters", "", "0a", "0", []string{"00"}, false},
		{"invalid token", "05,99", "05,999", "05,999", nil, true},
		{"empty", "", "", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/parse", "", map[string]string{"prev": tt.prev, "raw": tt.raw})
			if rr.Code != http.StatusOK {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
			}
			resp := decode[parseResponse](t, rr)
			if resp.Text != tt.wantText || resp.Cursor != len(tt.wantText) {
				t.Fatalf("text=%q cursor=%d", resp.Text, resp.Cursor)
			}
			if strings.Join(resp.Labels, ",") != strings.Join(tt.wantLabels, ",") {
				t.Fatalf("labels=%v want %v", resp.Labels, tt.wantLabels)
			}
			if (resp.Error != "") != tt.wantErr {
				t.Fatalf("error=%q wantErr=%v", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestSuspiciousRequestBlocked(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(t, http.MethodGet, "/.env", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestPutDataReplacesLedger(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "owner-1")
	env.do(t, http.MethodPost, "/api/data", tok, map[string]string{"numbers": "05", "value": "30"})

	rr := env.do(t, http.MethodPut, "/api/data", tok, map[string]any{
		"numberValues":    map[string][]float64{"7": {1, 2}, "42": {5}, "50": {}},
		"globalThreshold": 4,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	resp := decode[mutationResponse](t, rr)
	if !resp.Synced || len(resp.Data.History) != 2 || resp.Data.Numbers["07"] != 3 || resp.Data.Threshold != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	stored, err := env.repo.LoadSnapshot(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(stored.Entries) != 2 || len(stored.Entries["05"]) != 0 || stored.Threshold != 4 {
		t.Fatalf("stored = %+v", stored)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing threshold", map[string]any{"numberValues": map[string][]float64{}}, http.StatusUnprocessableEntity},
		{"missing values", map[string]any{"globalThreshold": 1}, http.StatusUnprocessableEntity},
		{"invalid label", map[string]any{"numberValues": map[string][]float64{"100": {1}}, "globalThreshold": 1}, http.StatusUnprocessableEntity},
		{"padded duplicate", map[string]any{"numberValues": map[string][]float64{"5": {1}, "05": {2}}, "globalThreshold": 1}, http.StatusUnprocessableEntity},
		{"unknown field", map[string]any{"numberValues": map[string][]float64{}, "globalThreshold": 1, "extra": true}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPut, "/api/data", tok, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
			}
		})
	}

	after, _ := env.repo.LoadSnapshot(context.Background(), "owner-1")
	if len(after.Entries) != 2 || after.Threshold != 4 {
		t.Fatalf("rejected uploads changed state: %+v", after)
	}
}

func TestPutDataSyncFailureKeepsStoredSnapshot(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "owner-1")
	env.do(t, http.MethodPost, "/api/data", tok, map[string]string{"numbers": "05", "value": "30"})

	env.repo.set(true, false)
	rr := env.do(t, http.MethodPut, "/api/data", tok, map[string]any{
		"numberValues":    map[string][]float64{"09": {1}},
		"globalThreshold": 0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	if resp := decode[mutationResponse](t, rr); resp.Synced || resp.Warning == "" {
		t.Fatalf("expected unsynced response, got %+v", resp)
	}

	stored, _ := env.repo.Repository.LoadSnapshot(context.Background(), "owner-1")
	if len(stored.Entries) != 1 || len(stored.Entries["05"]) != 1 {
		t.Fatalf("stored snapshot changed: %+v", stored)
	}
}
