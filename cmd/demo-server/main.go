package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"loyaltykit/adapters/jsonfile"
	"loyaltykit/api/httpapi"
	"loyaltykit/core"
	"loyaltykit/engine"
	"loyaltykit/integrations/ipfs"
	"loyaltykit/leaderboard"
	"loyaltykit/loyalty"
	"loyaltykit/realtime"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dataFile := flag.String("data", "", "persist vectors to this JSON file (in-memory when empty)")
	seed := flag.Bool("seed", true, "register demo members and replay a few actions")
	flag.Parse()

	// readable console logging for development/demo
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	resolver, err := ipfs.NewResolver("")
	if err != nil {
		log.Fatal("ipfs resolver", zap.Error(err))
	}

	opts := []loyalty.Option{
		loyalty.WithRealtime(hub),
		loyalty.WithHandlers(leaderboard.NewTracker(board)),
		loyalty.WithPerks(demoPerks()...),
		loyalty.WithBlobResolver(resolver),
		loyalty.WithLogger(log),
	}
	if *dataFile != "" {
		st, err := jsonfile.New(*dataFile)
		if err != nil {
			log.Fatal("open data file", zap.Error(err))
		}
		opts = append(opts, loyalty.WithStore(st))
	}
	svc := loyalty.New(opts...)
	defer svc.Close()

	if *seed {
		seedMembers(context.Background(), svc, log)
	}

	handler := httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:      "/api",
		AllowCORSOrigin: "*",
		Leaderboard:     board,
		Logger:          log,
	})

	log.Info("starting demo server", zap.String("address", *addr))
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Error("demo server crashed", zap.Error(err))
		os.Exit(1)
	}
}

func demoPerks() []core.Perk {
	lounge := core.MinPoints(500)
	upgrade := core.MinCategoricalTier(core.TierGold)
	suite := core.Combined(core.MinActivityCount(3), core.MinCumulativeSpend(decimal.NewFromInt(10_000_000)))
	return []core.Perk{
		{ID: "lounge-pass", Name: "Lounge pass", Description: "One airport lounge visit.", IsActive: true, BrandID: "air", UnlockCondition: &lounge},
		{ID: "seat-upgrade", Name: "Seat upgrade", Description: "Complimentary upgrade on the next flight.", IsActive: true, BrandID: "air", UnlockCondition: &upgrade},
		{ID: "suite-night", Name: "Suite night", Description: "One night in a suite.", IsActive: true, BrandID: "hotel", UnlockCondition: &suite},
	}
}

func seedMembers(ctx context.Context, svc *engine.LoyaltyService, log *zap.Logger) {
	plays := []struct {
		user   core.UserID
		action core.Action
	}{
		{"alice", core.FlightBooking{PointsEarned: 600, Spend: decimal.NewFromInt(3_000_000)}},
		{"alice", core.FlightBooking{PointsEarned: 400, Spend: decimal.NewFromInt(2_000_000)}},
		{"bob", core.Purchase{Amount: decimal.NewFromInt(750_000)}},
		{"bob", core.TierChange{Tier: core.TierGold}},
		{"carol", core.HotelStay{Nights: 2, Amount: decimal.NewFromInt(1_200_000)}},
		{"carol", core.Referral{PointsEarned: 250}},
	}
	for _, p := range plays {
		if _, err := svc.Register(ctx, p.user); err != nil && core.KindOf(err) != core.KindConflict {
			log.Warn("seed register failed", zap.String("user_id", string(p.user)), zap.Error(err))
			continue
		}
		if _, err := svc.ProcessAction(ctx, p.user, p.action); err != nil {
			log.Warn("seed action failed", zap.String("user_id", string(p.user)), zap.Error(err))
		}
	}
}
