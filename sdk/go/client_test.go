package sdk

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltykit/api/httpapi"
	"loyaltykit/core"
	"loyaltykit/engine"
	"loyaltykit/leaderboard"
	"loyaltykit/loyalty"
	"loyaltykit/realtime"
)

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

func newTestServer(t *testing.T, keys ...string) *testServer {
	t.Helper()
	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	cond := core.MinPoints(500)
	svc := loyalty.New(
		loyalty.WithDispatchMode(engine.DispatchSync),
		loyalty.WithRealtime(hub),
		loyalty.WithHandlers(leaderboard.NewTracker(board)),
		loyalty.WithPerks(core.Perk{ID: "lounge", Name: "Lounge", IsActive: true, BrandID: "air", UnlockCondition: &cond}),
	)
	t.Cleanup(svc.Close)
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, httpapi.Options{PathPrefix: "/api", APIKeys: keys, Leaderboard: board}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub}
}

func TestClient_EndToEnd(t *testing.T) {
	srv := newTestServer(t, "k1")
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	v, err := client.Register(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.UserID("alice"), v.UserID)
	assert.Equal(t, 0, v.DerivedLevel)

	res, err := client.ProcessAction(ctx, "alice", core.ActionFlightBooking, core.FlightBooking{PointsEarned: 600, Spend: decimal.NewFromInt(3_000_000)})
	require.NoError(t, err)
	assert.Equal(t, int64(600), res.PointsEarned)
	assert.False(t, res.LevelChanged)

	res, err = client.ProcessAction(ctx, "alice", core.ActionFlightBooking, core.FlightBooking{PointsEarned: 400, Spend: decimal.NewFromInt(2_000_000)})
	require.NoError(t, err)
	assert.True(t, res.LevelChanged)
	assert.Equal(t, 1, res.NewLevel)

	v, err = client.GetVector(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v.Points)
	assert.True(t, v.CumulativeSpend.Equal(decimal.NewFromInt(5_000_000)))

	lvl, err := client.GetLevel(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Bronze", lvl.Name)

	md, err := client.GetMetadata(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Bronze", md.Name)
	assert.NotEmpty(t, md.ImageLocator)

	perks, err := client.GetPerks(ctx, "alice", "air")
	require.NoError(t, err)
	require.Len(t, perks, 1)
	assert.True(t, perks[0].Unlocked)

	perks, err = client.GetPerks(ctx, "alice", "rail")
	require.NoError(t, err)
	assert.Empty(t, perks)

	levels, err := client.Levels(ctx)
	require.NoError(t, err)
	assert.Len(t, levels, core.MaxLevel+1)

	top, err := client.Leaderboard(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].UserID)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_Errors(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL + "/api/")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.GetVector(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = client.GetVector(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyUserID)

	_, err = client.Register(ctx, "bob")
	require.NoError(t, err)
	_, err = client.ProcessAction(ctx, "bob", "teleportation", map[string]int{"distance": 1})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, string(core.KindInvalidInput), apiErr.Code)

	// no issuer configured
	_, err = client.RequestMint(ctx, "bob")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
	assert.False(t, IsTemporary(err))
}

func TestClient_Unauthorized(t *testing.T) {
	srv := newTestServer(t, "k1")
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	_, err = client.Register(context.Background(), "alice")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	_, err = client.Register(ctx, "alice")
	require.NoError(t, err)
	_, err = client.ProcessAction(ctx, "alice", core.ActionReferral, core.Referral{PointsEarned: 10})
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, core.EventActionApplied, evt.Type)
		assert.Equal(t, core.UserID("alice"), evt.UserID)
		assert.Equal(t, int64(10), evt.Total)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/ws", deriveWSURL("http://localhost:8080/api"))
	assert.Equal(t, "wss://loyalty.example.com/ws", deriveWSURL("https://loyalty.example.com"))
}
