package service

import (
	"time"

	"github.com/qs3c/gen_go_server/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Health: config.HealthConfig{
			Window:               time.Minute,
			Bucket:               10 * time.Second,
			MinSamples:           4,
			FailureRateThreshold: 0.5,
			ConsecutiveFailures:  3,
			Cooldown:             30 * time.Second,
			ProbeTTL:             time.Minute,
		},
		Cache: config.CacheConfig{
			Enabled:             true,
			SimilarityThreshold: 0.85,
			MaxCandidates:       100,
			EmbeddingTTL:        time.Hour,
		},
		Ledger: config.LedgerConfig{
			LockWait:     2 * time.Second,
			LockTTL:      5 * time.Second,
			ResetWeekday: "monday",
			ResetBatch:   2,
			DefaultPlan:  "free",
			Plans: map[string]config.PlanConfig{
				"free": {WeeklyCredits: 50},
				"pro":  {WeeklyCredits: 500},
			},
		},
		Orchestrator: config.OrchestratorConfig{
			ProviderTimeout:      200 * time.Millisecond,
			InFlightWait:         5 * time.Second,
			InFlightPoll:         10 * time.Millisecond,
			RunLockTTL:           time.Minute,
			StaleAfter:           time.Minute,
			AbandonAfter:         time.Hour,
			EscalateOnExhaustion: true,
		},
		Capabilities: map[string]config.CapabilityConfig{
			"image": {
				Cost: 10,
				Providers: []config.CapabilityProviderSlot{
					{ID: "primary", Tier: TierUnlimited, Priority: 1},
					{ID: "backup", Tier: TierUnlimited, Priority: 2},
					{ID: "paid", Tier: TierFallback, Priority: 3, Cost: 15},
				},
			},
			"video": {
				Cost: 40,
				Providers: []config.CapabilityProviderSlot{
					{ID: "primary", Tier: TierUnlimited, Priority: 1},
				},
			},
		},
	}
}
