package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "loyaltykit/adapters/memory"
	"loyaltykit/core"
	"loyaltykit/engine"
	"loyaltykit/leaderboard"
	"loyaltykit/realtime"
)

func newTestService(t *testing.T, opts ...engine.ServiceOption) (*engine.LoyaltyService, *mem.PerkCatalog) {
	t.Helper()
	perks := mem.NewPerkCatalog()
	svc := engine.NewLoyaltyService(mem.New(), perks, engine.NewEventBus(engine.DispatchSync), opts...)
	return svc, perks
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndProcessAction(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewMux(svc, nil, Options{PathPrefix: "/api"})

	rec := do(t, h, http.MethodPost, "/api/users", `{"user_id":"alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/users", `{"user_id":"alice"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/users/alice/actions", `{"type":"flight_booking","payload":{"points_earned":100}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res core.ActionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(100), res.PointsEarned)

	rec = do(t, h, http.MethodGet, "/api/users/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v core.AttributeVector
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, int64(100), v.Points)
	assert.Equal(t, int64(1), v.ActivityCount)
}

func TestActionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewMux(svc, nil, Options{})
	_, _ = svc.Register(context.Background(), "alice")

	cases := []string{
		`{"type":"teleportation","payload":{}}`,
		`{"type":"purchase","payload":{"amount":0}}`,
		`{"type":"purchase","payload":{"amount":10,"bogus":1}}`,
		`not json`,
		``,
	}
	for _, body := range cases {
		rec := do(t, h, http.MethodPost, "/users/alice/actions", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := do(t, h, http.MethodGet, "/users/alice", "")
	var v core.AttributeVector
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, int64(0), v.Points)
}

func TestGetUserNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewMux(svc, nil, Options{PathPrefix: "/api"})

	for _, path := range []string{"/api/users/unknown", "/api/users/unknown/level", "/api/users/unknown/metadata", "/api/users/unknown/perks"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := do(t, h, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLevelMetadataAndPerks(t *testing.T) {
	svc, perks := newTestService(t)
	h := NewMux(svc, nil, Options{})
	ctx := context.Background()
	_, _ = svc.Register(ctx, "alice")
	_, _ = svc.ProcessAction(ctx, "alice", core.Referral{PointsEarned: 500})
	cond := core.MinPoints(500)
	_, _ = perks.Upsert(ctx, core.Perk{ID: "lounge", BrandID: "air", IsActive: true, UnlockCondition: &cond})
	_, _ = perks.Upsert(ctx, core.Perk{ID: "spa", BrandID: "hotel", IsActive: true, UnlockCondition: &cond})

	rec := do(t, h, http.MethodGet, "/users/alice/level", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info core.LevelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Explorer", info.Name)

	rec = do(t, h, http.MethodGet, "/users/alice/metadata", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d core.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, 50, d.ProgressToNext)
	assert.Len(t, d.Traits, 7)

	rec = do(t, h, http.MethodGet, "/users/alice/perks?brand=air", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var perkResp struct {
		Perks []core.PerkEligibilityResult `json:"perks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perkResp))
	assert.Equal(t, []core.PerkEligibilityResult{{PerkID: "lounge", Unlocked: true}}, perkResp.Perks)

	rec = do(t, h, http.MethodGet, "/levels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Legend"`)
}

type failingIssuer struct{}

func (failingIssuer) Mint(context.Context, core.MintRequest) (core.MintReceipt, error) {
	return core.MintReceipt{}, core.E(core.KindTransient, "mint", "chain congested")
}

func TestMintErrors(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewMux(svc, nil, Options{})
	_, _ = svc.Register(context.Background(), "alice")

	rec := do(t, h, http.MethodPost, "/users/alice/mint", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "issuer")

	svc, _ = newTestService(t, engine.WithTokenIssuer(failingIssuer{}))
	h = NewMux(svc, nil, Options{})
	_, _ = svc.Register(context.Background(), "alice")
	rec = do(t, h, http.MethodPost, "/users/alice/mint", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestLeaderboard(t *testing.T) {
	board := leaderboard.NewSkipList()
	svc, _ := newTestService(t)
	tracker := leaderboard.NewTracker(board)
	svc.Subscribe(core.EventActionApplied, tracker.Handle)
	h := NewMux(svc, nil, Options{Leaderboard: board})
	ctx := context.Background()
	for _, u := range []core.UserID{"a", "b"} {
		_, _ = svc.Register(ctx, u)
	}
	_, _ = svc.ProcessAction(ctx, "a", core.Referral{PointsEarned: 10})
	_, _ = svc.ProcessAction(ctx, "b", core.Referral{PointsEarned: 20})

	rec := do(t, h, http.MethodGet, "/leaderboard?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []leaderboard.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, core.UserID("b"), resp.Entries[0].User)

	rec = do(t, h, http.MethodGet, "/leaderboard?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewMux(svc, nil, Options{PathPrefix: "/api/", APIKeys: []string{"secret"}})
	rec := do(t, h, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestAPIKeyAuth(t *testing.T) {
	svc, _ := newTestService(t)
	_, _ = svc.Register(context.Background(), "alice")
	h := NewMux(svc, nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := do(t, h, http.MethodGet, "/api/users/alice", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/api/users/alice", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebSocketRequiresAPIKey(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(NewMux(svc, realtime.NewHub(), Options{PathPrefix: "/api", APIKeys: []string{"secret"}}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, resp, err = websocket.DefaultDialer.Dial(url, http.Header{"X-API-Key": {"secret"}})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	svc, _ := newTestService(t)
	_, _ = svc.Register(context.Background(), "alice")
	h := NewMux(svc, nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	rec := do(t, h, http.MethodGet, "/api/users/alice", "", "X-API-Key", "k")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/users/alice", "", "X-API-Key", "k")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
