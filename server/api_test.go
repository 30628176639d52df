package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/blockchainkit/blockchainkit/pkg/pwdhash"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	filename := "test-server-" + t.Name() + ".sqlite"
	os.Remove(filename)
	t.Cleanup(func() { os.Remove(filename) })
	cfg := Config{
		DB: dbh.MakeSqliteConfig(filename),
		// Keep the simulated chain quiet during tests; broadcasts are driven explicitly
		BlockIntervalSeconds: 3600,
	}
	s, err := NewServer(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	t.Cleanup(s.chain.Stop)
	ts := httptest.NewServer(s.httpRouter)
	t.Cleanup(ts.Close)
	return s, ts
}

func newClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

// doJSON issues a request with an optional JSON body, and returns the response
// plus its raw body
func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	r, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	resp, err := client.Do(r)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func decodeMap(t *testing.T, raw []byte) map[string]any {
	m := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func register(t *testing.T, client *http.Client, baseURL, username, password, email string) map[string]any {
	resp, raw := doJSON(t, client, "POST", baseURL+"/api/register",
		map[string]string{"username": username, "password": password, "email": email}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "register %v: %v", username, string(raw))
	return decodeMap(t, raw)
}

func TestRegisterLoginFlow(t *testing.T) {
	_, ts := newTestServer(t)
	client := newClient(t)

	user := register(t, client, ts.URL, "alice", "secret123", "alice@x.com")
	require.Equal(t, "alice", user["username"])
	require.Equal(t, "user", user["role"])
	require.True(t, strings.HasPrefix(user["apiKey"].(string), "bk_"))
	_, hasPassword := user["password"]
	require.False(t, hasPassword, "password hash must never leave the server")

	// registration logged us in
	resp, raw := doJSON(t, client, "GET", ts.URL+"/api/user", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice", decodeMap(t, raw)["username"])

	// a fresh client has no session
	anon := newClient(t)
	resp, _ = doJSON(t, anon, "GET", ts.URL+"/api/user", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// wrong password and unknown username produce the same generic 401
	resp, raw = doJSON(t, anon, "POST", ts.URL+"/api/login",
		map[string]string{"username": "alice", "password": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	wrongPassword := string(raw)
	resp, raw = doJSON(t, anon, "POST", ts.URL+"/api/login",
		map[string]string{"username": "nobody", "password": "secret123"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, wrongPassword, string(raw))

	resp, raw = doJSON(t, anon, "POST", ts.URL+"/api/login",
		map[string]string{"username": "alice", "password": "secret123"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user = decodeMap(t, raw)
	require.Equal(t, "alice", user["username"])
	_, hasPassword = user["password"]
	require.False(t, hasPassword)

	resp, raw = doJSON(t, anon, "GET", ts.URL+"/api/user", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice", decodeMap(t, raw)["username"])

	// logout, then the session is gone; logging out again still succeeds
	resp, _ = doJSON(t, anon, "POST", ts.URL+"/api/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, anon, "GET", ts.URL+"/api/user", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doJSON(t, anon, "POST", ts.URL+"/api/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterConflictsAndValidation(t *testing.T) {
	_, ts := newTestServer(t)
	client := newClient(t)

	register(t, client, ts.URL, "alice", "secret123", "alice@x.com")

	resp, _ := doJSON(t, newClient(t), "POST", ts.URL+"/api/register",
		map[string]string{"username": "alice", "password": "different1", "email": "other@x.com"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, newClient(t), "POST", ts.URL+"/api/register",
		map[string]string{"username": "bob", "password": "different1", "email": "alice@x.com"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// the first user is unaffected
	resp, _ = doJSON(t, newClient(t), "POST", ts.URL+"/api/login",
		map[string]string{"username": "alice", "password": "secret123"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// malformed input gets a structured validation payload
	resp, raw := doJSON(t, newClient(t), "POST", ts.URL+"/api/register",
		map[string]string{"username": "", "password": "short", "email": "not-an-email"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeMap(t, raw)
	require.Equal(t, "Validation error", body["message"])
	require.Len(t, body["errors"], 3)
}

func TestApiKeyAuthAndRotation(t *testing.T) {
	_, ts := newTestServer(t)
	session := newClient(t)

	user := register(t, session, ts.URL, "alice", "secret123", "alice@x.com")
	apiKey := user["apiKey"].(string)

	// key auth works without any session, via header and via query parameter
	keyed := newClient(t)
	resp, raw := doJSON(t, keyed, "GET", ts.URL+"/api/user", nil, map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice", decodeMap(t, raw)["username"])
	resp, _ = doJSON(t, keyed, "GET", ts.URL+"/api/user?api_key="+apiKey, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// a bad key never degrades to anonymous or session auth
	resp, _ = doJSON(t, session, "GET", ts.URL+"/api/user", nil, map[string]string{"X-Api-Key": "bk_bogus"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// rotation kills the old key on the very next request
	resp, raw = doJSON(t, session, "POST", ts.URL+"/api/user/apikey", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newKey := decodeMap(t, raw)["apiKey"].(string)
	require.NotEqual(t, apiKey, newKey)

	resp, _ = doJSON(t, keyed, "GET", ts.URL+"/api/user", nil, map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, raw = doJSON(t, keyed, "GET", ts.URL+"/api/user", nil, map[string]string{"X-Api-Key": newKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice", decodeMap(t, raw)["username"])

	// rotation requires a session; a key alone can't mint its successor
	resp, _ = doJSON(t, keyed, "POST", ts.URL+"/api/user/apikey", nil, map[string]string{"X-Api-Key": newKey})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// key-authenticated requests show up in the usage log
	resp, raw = doJSON(t, session, "GET", ts.URL+"/api/usage", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var usage []map[string]any
	require.NoError(t, json.Unmarshal(raw, &usage))
	require.NotEmpty(t, usage)
}

func TestUpdateProfileStripsProtectedFields(t *testing.T) {
	s, ts := newTestServer(t)
	client := newClient(t)

	user := register(t, client, ts.URL, "alice", "secret123", "alice@x.com")
	originalKey := user["apiKey"].(string)

	resp, raw := doJSON(t, client, "PUT", ts.URL+"/api/user",
		map[string]any{
			"email":    "alice@y.com",
			"password": "hijacked1",
			"role":     "admin",
			"apiKey":   "bk_evil",
		}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeMap(t, raw)
	require.Equal(t, "alice@y.com", updated["email"])
	require.Equal(t, "user", updated["role"])
	require.Equal(t, originalKey, updated["apiKey"])

	// the password really didn't change
	resp, _ = doJSON(t, newClient(t), "POST", ts.URL+"/api/login",
		map[string]string{"username": "alice", "password": "secret123"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, newClient(t), "POST", ts.URL+"/api/login",
		map[string]string{"username": "alice", "password": "hijacked1"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// neither did the role or key, in the stored record
	stored, err := s.DB.GetUserByUsername("alice")
	require.NoError(t, err)
	require.Equal(t, "user", stored.Role)
	require.Equal(t, originalKey, stored.ApiKey)

	// unauthenticated profile updates are rejected
	resp, _ = doJSON(t, newClient(t), "PUT", ts.URL+"/api/user", map[string]any{"email": "x@y.com"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func promoteToAdmin(t *testing.T, s *Server, client *http.Client, baseURL string) {
	// The bootstrap admin's password is random; set a known one directly
	admin, err := s.DB.GetUserByUsername("admin")
	require.NoError(t, err)
	_, err = s.DB.UpdateUser(admin.ID, map[string]any{"password": pwdhash.HashPassword("adminpass1")})
	require.NoError(t, err)
	resp, _ := doJSON(t, client, "POST", baseURL+"/api/login",
		map[string]string{"username": "admin", "password": "adminpass1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBlogEndpoints(t *testing.T) {
	s, ts := newTestServer(t)

	resp, raw := doJSON(t, newClient(t), "GET", ts.URL+"/api/blog", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var posts []map[string]any
	require.NoError(t, json.Unmarshal(raw, &posts))
	require.NotEmpty(t, posts, "a fresh install seeds starter posts")

	id := jsonInt(int64(posts[0]["id"].(float64)))
	resp, raw = doJSON(t, newClient(t), "GET", ts.URL+"/api/blog/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, posts[0]["title"], decodeMap(t, raw)["title"])

	resp, _ = doJSON(t, newClient(t), "GET", ts.URL+"/api/blog/99999", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	post := map[string]any{"title": "T", "excerpt": "E", "content": "C", "category": "Guide"}

	// anonymous and non-admin authors are rejected
	resp, _ = doJSON(t, newClient(t), "POST", ts.URL+"/api/blog", post, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "secret123", "alice@x.com")
	resp, _ = doJSON(t, alice, "POST", ts.URL+"/api/blog", post, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := newClient(t)
	promoteToAdmin(t, s, admin, ts.URL)
	resp, raw = doJSON(t, admin, "POST", ts.URL+"/api/blog", post, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeMap(t, raw)
	require.Equal(t, "T", created["title"])

	resp, raw = doJSON(t, admin, "POST", ts.URL+"/api/blog", map[string]any{"title": "only a title"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Validation error", decodeMap(t, raw)["message"])
}

func TestUsageEndpoints(t *testing.T) {
	s, ts := newTestServer(t)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "secret123", "alice@x.com")

	resp, raw := doJSON(t, alice, "POST", ts.URL+"/api/usage",
		map[string]any{"endpoint": "/v1/blocks/latest", "requestCount": 3}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, float64(3), decodeMap(t, raw)["requestCount"])

	resp, raw = doJSON(t, alice, "GET", ts.URL+"/api/usage", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var usage []map[string]any
	require.NoError(t, json.Unmarshal(raw, &usage))
	require.Len(t, usage, 1)

	// another user can't read alice's usage, but an admin can
	aliceID := int64(usage[0]["userId"].(float64))
	bob := newClient(t)
	register(t, bob, ts.URL, "bob", "secret123", "bob@x.com")
	resp, _ = doJSON(t, bob, "GET", ts.URL+"/api/usage?userId="+jsonInt(aliceID), nil, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := newClient(t)
	promoteToAdmin(t, s, admin, ts.URL)
	resp, raw = doJSON(t, admin, "GET", ts.URL+"/api/usage?userId="+jsonInt(aliceID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &usage))
	require.Len(t, usage, 1)
}

func jsonInt(v int64) string {
	buf, _ := json.Marshal(v)
	return string(buf)
}

func TestWebSocketEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() map[string]any {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		return decodeMap(t, data)
	}

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "subscribe", "channel": "blocks"}))
	ack := read()
	require.Equal(t, "subscribed", ack["type"])
	require.Equal(t, "blocks", ack["channel"])
	require.Equal(t, "success", ack["status"])

	// exactly one initial snapshot, carrying the chain's latest block
	snapshot := read()
	require.Equal(t, "data", snapshot["type"])
	require.Equal(t, "blocks", snapshot["channel"])
	block := snapshot["data"].(map[string]any)
	require.GreaterOrEqual(t, block["number"].(float64), float64(1))

	// a broadcast from the hub arrives as a data message
	s.hub.Broadcast("blocks", map[string]any{"number": float64(99)})
	msg := read()
	require.Equal(t, "data", msg["type"])
	require.Equal(t, float64(99), msg["data"].(map[string]any)["number"])

	// garbage doesn't kill the connection
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.Equal(t, "error", read()["type"])
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "subscribe", "channel": "transactions"}))
	require.Equal(t, "subscribed", read()["type"])
}

func TestApiKeyValidatedOnPublicRoutes(t *testing.T) {
	_, ts := newTestServer(t)
	client := newClient(t)
	user := register(t, client, ts.URL, "alice", "secret123", "alice@x.com")
	apiKey := user["apiKey"].(string)

	// a bogus key is rejected even on routes that need no auth at all
	resp, _ := doJSON(t, newClient(t), "GET", ts.URL+"/api/blog", nil, map[string]string{"X-Api-Key": "bk_bogus"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doJSON(t, newClient(t), "GET", ts.URL+"/api/ping?api_key=bk_bogus", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doJSON(t, newClient(t), "POST", ts.URL+"/api/login",
		map[string]string{"username": "alice", "password": "secret123"},
		map[string]string{"X-Api-Key": "bk_bogus"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// a valid key passes, and the request is metered
	resp, _ = doJSON(t, newClient(t), "GET", ts.URL+"/api/blog", nil, map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, raw := doJSON(t, client, "GET", ts.URL+"/api/usage", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var usage []map[string]any
	require.NoError(t, json.Unmarshal(raw, &usage))
	require.Len(t, usage, 1)
	require.Equal(t, "/api/blog", usage[0]["endpoint"])
}

func TestUsernamesAreCaseInsensitive(t *testing.T) {
	_, ts := newTestServer(t)
	client := newClient(t)

	user := register(t, client, ts.URL, "Alice", "secret123", "alice@x.com")
	require.Equal(t, "alice", user["username"])

	resp, _ := doJSON(t, newClient(t), "POST", ts.URL+"/api/register",
		map[string]string{"username": "ALICE", "password": "secret123", "email": "other@x.com"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, newClient(t), "POST", ts.URL+"/api/login",
		map[string]string{"username": "ALICE", "password": "secret123"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
