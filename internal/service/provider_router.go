package service

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model"
)

// 计费层级
const (
	TierUnlimited = "unlimited"
	TierFallback  = "fallback"
)

// Route 一次路由结果，Candidates 为空表示全部不可用
type Route struct {
	Tier       string
	Candidates []model.RouteCandidate
}

// ProviderRouter 按静态优先级和实时健康状态给出候选列表
type ProviderRouter struct {
	health       *HealthTracker
	capabilities map[string]config.CapabilityConfig
}

func NewProviderRouter(health *HealthTracker, cfg *config.Config) *ProviderRouter {
	return &ProviderRouter{
		health:       health,
		capabilities: cfg.Capabilities,
	}
}

// Route 不限量层有可用 provider 时只返回该层，否则返回按点计费的兜底层
func (r *ProviderRouter) Route(ctx context.Context, capability string) (*Route, error) {
	capCfg, ok := r.capabilities[capability]
	if !ok {
		return nil, ErrUnknownCapability
	}

	unlimited, err := r.filterTier(ctx, capability, capCfg, TierUnlimited)
	if err != nil {
		return nil, err
	}
	if len(unlimited) > 0 {
		return &Route{Tier: TierUnlimited, Candidates: unlimited}, nil
	}

	fallback, err := r.filterTier(ctx, capability, capCfg, TierFallback)
	if err != nil {
		return nil, err
	}
	if len(fallback) > 0 {
		log.WithField("capability", capability).Warn("unlimited tier unavailable, routing to fallback tier")
		return &Route{Tier: TierFallback, Candidates: fallback}, nil
	}

	return &Route{Tier: TierUnlimited}, nil
}

// Fallback 调用期间不限量层全部失败时的升级候选
func (r *ProviderRouter) Fallback(ctx context.Context, capability string) ([]model.RouteCandidate, error) {
	capCfg, ok := r.capabilities[capability]
	if !ok {
		return nil, ErrUnknownCapability
	}
	return r.filterTier(ctx, capability, capCfg, TierFallback)
}

// ReleaseProbes 归还未实际调用的探测槽位
func (r *ProviderRouter) ReleaseProbes(ctx context.Context, capability string, candidates []model.RouteCandidate) {
	for _, c := range candidates {
		if !c.IsProbe() {
			continue
		}
		if err := r.health.ReleaseProbe(ctx, c.Provider, capability, c.ProbeToken); err != nil {
			log.WithError(err).WithField("provider", c.Provider).Warn("release probe failed")
		}
	}
}

// filterTier 同层内 HEALTHY 在前、DEGRADED 其次、探测候选最后，组内保持静态优先级
func (r *ProviderRouter) filterTier(ctx context.Context, capability string, capCfg config.CapabilityConfig, tier string) ([]model.RouteCandidate, error) {
	slots := make([]config.CapabilityProviderSlot, 0, len(capCfg.Providers))
	for _, slot := range capCfg.Providers {
		if slot.Tier == tier {
			slots = append(slots, slot)
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Priority < slots[j].Priority
	})

	var healthy, degraded, probes []model.RouteCandidate
	for _, slot := range slots {
		cost := slot.Cost
		if cost == 0 {
			cost = capCfg.Cost
		}
		candidate := model.RouteCandidate{Provider: slot.ID, Tier: tier, Cost: cost}

		state, err := r.health.State(ctx, slot.ID, capability)
		if err != nil {
			return nil, err
		}

		switch state {
		case model.HealthHealthy:
			healthy = append(healthy, candidate)
		case model.HealthDegraded:
			degraded = append(degraded, candidate)
		case model.HealthDown:
			token, err := r.health.AcquireProbe(ctx, slot.ID, capability)
			if err != nil {
				return nil, err
			}
			if token != "" {
				candidate.ProbeToken = token
				probes = append(probes, candidate)
			}
		}
	}

	out := make([]model.RouteCandidate, 0, len(healthy)+len(degraded)+len(probes))
	out = append(out, healthy...)
	out = append(out, degraded...)
	return append(out, probes...), nil
}
