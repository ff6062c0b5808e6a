package recollect

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testAdminPassword = "correct horse battery staple"

// newTestAPI returns a bot with the API enabled and login rate limiting
// disabled
func newTestAPI(t testing.TB) (*Recollect, *API) {
	t.Helper()
	cfg := DefaultTestConfig(t)
	cfg.API.Enabled = true
	hash, err := HashPassword(testAdminPassword)
	require.NoError(t, err)
	cfg.API.AdminPasswordHash = hash

	r, _, _ := newTestBot(t, cfg)
	require.NotNil(t, r.api)
	r.api.loginRequestLimiter = rate.NewLimiter(rate.Inf, 1)
	return r, r.api
}

func apiRequest(
	t testing.TB,
	api *API,
	method string,
	path string,
	body any,
	cookies ...*http.Cookie,
) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

// login logs in as the admin, returning the session cookies
func login(t testing.TB, api *API) []*http.Cookie {
	t.Helper()
	w := apiRequest(
		t,
		api,
		http.MethodPost,
		"/api/login",
		userLogin{Username: "admin", Password: testAdminPassword},
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func decodeBody[T any](t testing.TB, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()
	_, api := newTestAPI(t)

	w := apiRequest(t, api, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[healthCheckResponse](t, w)
	assert.True(t, resp.DatabaseOK)
	assert.False(t, resp.DiscordGatewayConnected)
	assert.Equal(t, Version, resp.Version)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))
}

func TestAPI_Login(t *testing.T) {
	t.Parallel()
	_, api := newTestAPI(t)

	w := apiRequest(t, api, http.MethodPost, "/api/login", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = apiRequest(
		t,
		api,
		http.MethodPost,
		"/api/login",
		userLogin{Username: "admin", Password: "wrong"},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies())

	w = apiRequest(
		t,
		api,
		http.MethodPost,
		"/api/login",
		userLogin{Username: "root", Password: testAdminPassword},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cookies := login(t, api)
	assert.Equal(t, sessionVarName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.False(t, cookies[0].Secure)

	w = apiRequest(t, api, http.MethodGet, "/api/logged_in", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", decodeBody[loggedInResponse](t, w).Username)
}

func TestAPI_LoginNotConfigured(t *testing.T) {
	t.Parallel()
	_, api := newTestAPI(t)
	api.config.AdminPasswordHash = ""

	w := apiRequest(
		t,
		api,
		http.MethodPost,
		"/api/login",
		userLogin{Username: "admin", Password: testAdminPassword},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_LoginRateLimited(t *testing.T) {
	t.Parallel()
	_, api := newTestAPI(t)
	api.loginRequestLimiter = rate.NewLimiter(0, 0)

	w := apiRequest(
		t,
		api,
		http.MethodPost,
		"/api/login",
		userLogin{Username: "admin", Password: testAdminPassword},
	)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAPI_Logout(t *testing.T) {
	t.Parallel()
	_, api := newTestAPI(t)
	cookies := login(t, api)

	w := apiRequest(t, api, http.MethodPost, "/api/logout", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	loggedOut := w.Result().Cookies()
	require.NotEmpty(t, loggedOut)

	w = apiRequest(t, api, http.MethodGet, "/api/logged_in", nil, loggedOut...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Unauthorized(t *testing.T) {
	t.Parallel()
	_, api := newTestAPI(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/logged_in"},
		{http.MethodGet, "/api/channels"},
		{http.MethodPut, "/api/channels/123"},
		{http.MethodDelete, "/api/channels/123"},
		{http.MethodDelete, "/api/channels/123/memory"},
		{http.MethodGet, "/api/users/1"},
		{http.MethodPatch, "/api/users/1"},
		{http.MethodDelete, "/api/users/1/memory"},
		{http.MethodDelete, "/api/guilds/1/memory"},
		{http.MethodGet, "/api/guilds/1/users"},
	}
	for _, route := range routes {
		w := apiRequest(t, api, route.method, route.path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}

	w := apiRequest(
		t,
		api,
		http.MethodGet,
		"/api/logged_in",
		nil,
		&http.Cookie{Name: sessionVarName, Value: "forged"},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Channels(t *testing.T) {
	t.Parallel()
	r, api := newTestAPI(t)
	cookies := login(t, api)
	ctx := context.Background()

	w := apiRequest(t, api, http.MethodGet, "/api/channels", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = apiRequest(t, api, http.MethodPut, "/api/channels/111", map[string]string{}, cookies...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = apiRequest(t, api, http.MethodPut, "/api/channels/111", map[string]string{"guild_id": "abc"}, cookies...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = apiRequest(t, api, http.MethodPut, "/api/channels/111", apiChannelPayload{GuildID: "555"}, cookies...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = apiRequest(t, api, http.MethodPut, "/api/channels/222", apiChannelPayload{GuildID: "666"}, cookies...)
	require.Equal(t, http.StatusOK, w.Code)

	allowed, err := r.store.IsChannelAllowed(ctx, "111")
	require.NoError(t, err)
	assert.True(t, allowed)

	w = apiRequest(t, api, http.MethodGet, "/api/channels?guild_id=555", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeBody[[]ChannelAllowlistEntry](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "111", entries[0].ChannelID)
	assert.Equal(t, updatedByAPI, entries[0].UpdatedBy)

	w = apiRequest(t, api, http.MethodGet, "/api/channels?guild_id=abc", nil, cookies...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = apiRequest(t, api, http.MethodDelete, "/api/channels/111", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	allowed, err = r.store.IsChannelAllowed(ctx, "111")
	require.NoError(t, err)
	assert.False(t, allowed)

	w = apiRequest(t, api, http.MethodGet, "/api/channels", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	entries = decodeBody[[]ChannelAllowlistEntry](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "222", entries[0].ChannelID)
}

func TestAPI_ResetChannelMemory(t *testing.T) {
	t.Parallel()
	r, api := newTestAPI(t)
	cookies := login(t, api)
	ctx := context.Background()

	for _, content := range []string{"one", "two"} {
		_, err := r.store.RecordMessage(
			ctx,
			RecordMessageInput{UserID: "u1", ChannelID: "111", GuildID: "555", Content: content},
		)
		require.NoError(t, err)
	}

	w := apiRequest(t, api, http.MethodDelete, "/api/channels/111/memory", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decodeBody[deletedResponse](t, w).Deleted)
}

func TestAPI_Users(t *testing.T) {
	t.Parallel()
	r, api := newTestAPI(t)
	cookies := login(t, api)
	ctx := context.Background()

	_, err := r.store.RecordMessage(
		ctx,
		RecordMessageInput{UserID: "u1", ChannelID: "111", GuildID: "555", Content: "my name is Alex"},
	)
	require.NoError(t, err)
	r.turns.AddTurn("u1", TurnRoleUser, "hello")

	w := apiRequest(t, api, http.MethodGet, "/api/users/u1", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	settings := decodeBody[UserSettings](t, w)
	assert.True(t, settings.MemoryEnabled)
	assert.Equal(t, int64(1), settings.MessageCount)
	assert.Equal(t, "Name: Alex", settings.ProfileSummary)

	w = apiRequest(t, api, http.MethodPatch, "/api/users/u1", map[string]string{}, cookies...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = apiRequest(t, api, http.MethodPatch, "/api/users/u1", map[string]bool{"memory_enabled": false}, cookies...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	settings = decodeBody[UserSettings](t, w)
	assert.False(t, settings.MemoryEnabled)
	assert.Empty(t, r.turns.Turns("u1"), "turning memory off clears the conversation")

	w = apiRequest(t, api, http.MethodDelete, "/api/users/u1/memory", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decodeBody[deletedResponse](t, w).Deleted)

	settings, err = r.store.UserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, settings.ProfileSummary)
	assert.False(t, settings.MemoryEnabled, "forgetting keeps the memory setting")

	w = apiRequest(t, api, http.MethodGet, "/api/users/nobody", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[UserSettings](t, w).MemoryEnabled)
}

func TestAPI_Guilds(t *testing.T) {
	t.Parallel()
	r, api := newTestAPI(t)
	cookies := login(t, api)
	ctx := context.Background()

	w := apiRequest(t, api, http.MethodGet, "/api/guilds/g1/users", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	require.NoError(t, r.store.SyncGuild(ctx, testGuildSnapshot()))
	_, err := r.store.RecordMessage(
		ctx,
		RecordMessageInput{UserID: "u1", ChannelID: "c1", GuildID: "g1", Content: "hi", DisplayName: "Alex"},
	)
	require.NoError(t, err)

	w = apiRequest(t, api, http.MethodGet, "/api/guilds/g1/users", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	users := decodeBody[[]GuildUser](t, w)
	require.Len(t, users, 3)
	assert.Equal(t, "Alex", users[0].DisplayName, "most recently seen first")

	w = apiRequest(t, api, http.MethodDelete, "/api/guilds/g1/memory", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decodeBody[deletedResponse](t, w).Deleted)

	info, err := r.store.GuildInfo(ctx, "g1")
	require.NoError(t, err)
	assert.NotNil(t, info, "guild metadata is kept")
}

func TestSessionOptions(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t).API
	opts := sessionOptions(cfg)
	assert.False(t, opts.Secure)
	assert.Equal(t, http.SameSiteStrictMode, opts.SameSite)
	assert.Equal(t, int(DefaultAPISessionMaxAge.Seconds()), opts.MaxAge)

	cfg.Development = true
	opts = sessionOptions(cfg)
	assert.True(t, opts.Secure)
	assert.Equal(t, http.SameSiteNoneMode, opts.SameSite)
}
