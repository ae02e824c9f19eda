package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskquest/internal/config"
	"taskquest/internal/db"
	"taskquest/internal/domain"
	"taskquest/internal/engine"
	"taskquest/internal/engine/auth"
	"taskquest/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, opts ...func(*Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default())
	_, err = e.InitializeCatalog(auth.WithIdentity(context.Background(), auth.Identity{ID: auth.SystemIdentity}))
	require.NoError(t, err)

	cfg := Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	handler, err := New(cfg)
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func bearer(t *testing.T, identityID string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, identityID, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	return body.Error.Code
}

func TestAnonymousMutationRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/profiles", map[string]any{"nickname": "Ali"}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	require.Equal(t, "unauthenticated", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/challenges", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestBadCredentialsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/profiles/me", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "invalid_credentials", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/profiles/me", nil, map[string]string{"X-Api-Key": "tq_unknown"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "invalid_credentials", errorCode(t, data))
}

func TestCompleteAndPurchaseFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := bearer(t, "alice")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/profiles/me", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var envelope ProfileEnvelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Nil(t, envelope.Profile)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/profiles", map[string]any{"nickname": "Ali"}, alice)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/profiles", map[string]any{"nickname": "Ali again"}, alice)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	require.Equal(t, "already_exists", errorCode(t, data))

	tasks := []map[string]any{}
	for i := 0; i < 5; i++ {
		tasks = append(tasks, map[string]any{"title": fmt.Sprintf("Drink glass %d", i+1)})
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/challenges", map[string]any{
		"title": "Hydration",
		"tasks": tasks,
	}, alice)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created ChallengeResponse
	require.NoError(t, json.Unmarshal(data, &created))
	require.Len(t, created.Tasks, 5)

	var last engine.CompletionResult
	for _, task := range created.Tasks {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/complete", nil, alice)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		require.NoError(t, json.Unmarshal(data, &last))
		require.True(t, last.Credited)
	}
	require.True(t, last.ChallengeCompleted)
	require.NotNil(t, last.Balance)
	require.EqualValues(t, 5, *last.Balance)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+created.Tasks[0].ID+"/complete", nil, bearer(t, "bob"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	require.Equal(t, "already_completed", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/challenges/"+created.Challenge.ID+"/tasks", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var views []domain.TaskView
	require.NoError(t, json.Unmarshal(data, &views))
	require.Len(t, views, 5)
	require.Equal(t, "Ali", views[0].CompletedBy)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/store/purchase", map[string]any{"image_ref": "/chapmanBG.png"}, alice)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var bought engine.PurchaseResult
	require.NoError(t, json.Unmarshal(data, &bought))
	require.EqualValues(t, 0, bought.Profile.Balance)
	require.EqualValues(t, 5, bought.Charged)
	require.Equal(t, []string{"/chapmanBG.png"}, bought.Profile.PurchasedItems)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/store/purchase", map[string]any{"image_ref": "/kuzBG.png"}, alice)
	require.Equal(t, http.StatusPaymentRequired, res.StatusCode, string(data))
	require.Equal(t, "insufficient_funds", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/leaderboard?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var board []domain.LeaderboardEntry
	require.NoError(t, json.Unmarshal(data, &board))
	require.Len(t, board, 1)
	require.Equal(t, "Ali", board[0].Nickname)
}

func TestUnknownTaskNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/missing/complete", nil, bearer(t, "alice"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	require.Equal(t, "not_found", errorCode(t, data))
}

func TestInvalidInputIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/challenges", map[string]any{"title": "   "}, bearer(t, "alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	require.Equal(t, "bad_request", errorCode(t, data))
}

func TestMutationsAreRateLimited(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{RPS: 0.001, Burst: 2}
	})
	defer cleanup()
	alice := bearer(t, "alice")

	for i := 0; i < 2; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/challenges", map[string]any{"title": "Walk"}, alice)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/challenges", map[string]any{"title": "Walk"}, alice)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode, string(data))
	require.Equal(t, "rate_limited", errorCode(t, data))
	require.Equal(t, "1", res.Header.Get("Retry-After"))

	// reads and other identities have their own budget
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/challenges", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/challenges", map[string]any{"title": "Walk"}, bearer(t, "bob"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"identity_id": "carol"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/profiles", map[string]any{"nickname": "Carol"},
		map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var p domain.Profile
	require.NoError(t, json.Unmarshal(data, &p))
	require.Equal(t, "carol", p.IdentityID)
}

func TestAPIKeyAuthenticates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	_, plaintext, err := srv.Engine.CreateAPIKey(auth.WithIdentity(context.Background(), auth.Identity{ID: "dave"}), "laptop")
	require.NoError(t, err)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/profiles", map[string]any{"nickname": "Dave"}, map[string]string{"X-Api-Key": plaintext})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var p domain.Profile
	require.NoError(t, json.Unmarshal(data, &p))
	require.Equal(t, "dave", p.IdentityID)
}

func TestStoreItemsListed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/store/items", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var items []domain.StoreItem
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 3)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/store/init", nil, bearer(t, "alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var seeded CatalogInitResponse
	require.NoError(t, json.Unmarshal(data, &seeded))
	require.Zero(t, seeded.Added)
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, strings.Contains(string(data), "taskquest_http_requests_total"))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(data), "complete-task")
	require.Contains(t, string(data), "bearerAuth")
	require.Contains(t, string(data), "apiKeyAuth")

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
}
