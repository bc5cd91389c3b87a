package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksgame/stacks-server/pkg/server/internal/db"
)

func newTestAPI(t *testing.T) (*httptest.Server, *InMemoryDB) {
	t.Helper()
	srv, database := newTestServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, database
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "session-1", body["session"])
}

func TestUserEndpointGet(t *testing.T) {
	ts, database := newTestAPI(t)
	database.users["42"] = &db.User{ID: "42", Username: "alice", Authenticated: true, Chips: 750}

	resp, err := http.Get(ts.URL + "/api/user?fid=42")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "42", body["fid"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, float64(750), body["chips"])
}

func TestUserEndpointNotFound(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/api/user?fid=999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUserEndpointMissingFid(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/api/user")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUserEndpointPostUpsert(t *testing.T) {
	ts, database := newTestAPI(t)

	payload := `{"fid": 42, "username": "alice", "displayName": "Alice"}`
	resp, err := http.Post(ts.URL+"/api/user", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	u, err := database.GetUser("42")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, u.Authenticated)
}

func TestUserEndpointPostRejectsAnonymousKey(t *testing.T) {
	ts, _ := newTestAPI(t)

	payload := `{"fid": "u_abc123"}`
	resp, err := http.Post(ts.URL+"/api/user", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUserStatsEndpoint(t *testing.T) {
	ts, database := newTestAPI(t)
	seedHistory(database, "42", []bool{true, false, true}, 100)

	resp, err := http.Get(ts.URL + "/api/user-stats?fid=42")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats UserStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 3, stats.TotalGames)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 1, stats.CurrentStreak)
}

func TestLeaderboardEndpoint(t *testing.T) {
	ts, database := newTestAPI(t)
	database.users["1"] = &db.User{ID: "1", Authenticated: true, Chips: 100}
	database.users["2"] = &db.User{ID: "2", Authenticated: true, Chips: 200}

	resp, err := http.Get(ts.URL + "/api/leaderboard?type=chips&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []*LeaderboardEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].UserID)
}

// The documented query parameter is type; metric still works as an alias.
func TestLeaderboardEndpointTypeParam(t *testing.T) {
	ts, database := newTestAPI(t)
	database.users["1"] = &db.User{ID: "1", Authenticated: true, Chips: 50}
	database.users["2"] = &db.User{ID: "2", Authenticated: true, Chips: 10}
	seedHistory(database, "2", []bool{true, true}, 10)
	seedHistory(database, "1", []bool{true}, 10)

	for _, url := range []string{
		ts.URL + "/api/leaderboard?type=wins",
		ts.URL + "/api/leaderboard?metric=wins",
	} {
		resp, err := http.Get(url)
		require.NoError(t, err)
		var entries []*LeaderboardEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		resp.Body.Close()
		require.Len(t, entries, 2)
		assert.Equal(t, "2", entries[0].UserID)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestAPI(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/leaderboard", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServeWSRequiresFid(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
