package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model"
	"github.com/qs3c/gen_go_server/internal/repository"
)

// Outcome 一次 provider 调用的结果
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// KEYS[1] 状态哈希，KEYS[2] probe 槽位，KEYS[3] 当前桶，KEYS[3..] 窗口内全部桶
// ARGV: now_ms, outcome, threshold_permille, min_samples, consecutive_limit, cooldown_ms, bucket_ttl_ms, probe_token
// DOWN 状态只有持有槽位 token 的探测结果能改变状态并清理槽位，其余上报只计数
var reportScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local success = ARGV[2] == 'success'
local threshold = tonumber(ARGV[3])
local minSamples = tonumber(ARGV[4])
local consecLimit = tonumber(ARGV[5])
local cooldown = tonumber(ARGV[6])

local state = redis.call('HGET', KEYS[1], 'state')
if not state then state = 'HEALTHY' end

if success then
	redis.call('HINCRBY', KEYS[3], 'ok', 1)
else
	redis.call('HINCRBY', KEYS[3], 'fail', 1)
end
redis.call('PEXPIRE', KEYS[3], ARGV[7])

local consec = 0
if success then
	redis.call('HSET', KEYS[1], 'consecutive', 0)
else
	consec = redis.call('HINCRBY', KEYS[1], 'consecutive', 1)
end

local ok, fail = 0, 0
for i = 3, #KEYS do
	local v = redis.call('HMGET', KEYS[i], 'ok', 'fail')
	ok = ok + (tonumber(v[1]) or 0)
	fail = fail + (tonumber(v[2]) or 0)
end
local total = ok + fail

local newState = state
if state == 'DOWN' then
	local since = tonumber(redis.call('HGET', KEYS[1], 'down_since') or now)
	local holder = ARGV[8] ~= '' and redis.call('GET', KEYS[2]) == ARGV[8]
	if holder and now - since >= cooldown then
		if success then
			newState = 'HEALTHY'
			redis.call('HDEL', KEYS[1], 'down_since')
			for i = 3, #KEYS do
				redis.call('DEL', KEYS[i])
			end
			ok, fail = 0, 0
		else
			redis.call('HSET', KEYS[1], 'down_since', ARGV[1])
		end
		redis.call('DEL', KEYS[2])
	end
elseif consec >= consecLimit then
	newState = 'DOWN'
	redis.call('HSET', KEYS[1], 'down_since', ARGV[1])
elseif total >= minSamples and fail * 1000 > threshold * total then
	newState = 'DEGRADED'
elseif fail * 1000 <= threshold * total then
	newState = 'HEALTHY'
end

redis.call('HSET', KEYS[1], 'state', newState, 'last_checked', ARGV[1])

local changed = 0
if newState ~= state then changed = 1 end
return {newState, changed, ok, fail, consec}
`)

// KEYS[1] 状态哈希，KEYS[2] probe 槽位；ARGV: now_ms, cooldown_ms, probe_ttl_ms, token
var acquireProbeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'DOWN' then return 0 end
local since = tonumber(redis.call('HGET', KEYS[1], 'down_since') or 0)
if tonumber(ARGV[1]) - since < tonumber(ARGV[2]) then return 0 end
if redis.call('SET', KEYS[2], ARGV[4], 'NX', 'PX', ARGV[3]) then return 1 end
return 0
`)

// 只有 token 匹配时才删除槽位
var releaseProbeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// HealthTracker 按 (provider, capability) 维护滚动健康状态，实时数据在 Redis
type HealthTracker struct {
	client       *redis.Client
	healthRepo   *repository.HealthRepository
	cfg          config.HealthConfig
	capabilities map[string]config.CapabilityConfig
	now          func() time.Time
}

func NewHealthTracker(client *redis.Client, healthRepo *repository.HealthRepository, cfg *config.Config) *HealthTracker {
	return &HealthTracker{
		client:       client,
		healthRepo:   healthRepo,
		cfg:          cfg.Health,
		capabilities: cfg.Capabilities,
		now:          time.Now,
	}
}

func (t *HealthTracker) stateKey(provider, capability string) string {
	return fmt.Sprintf("health:%s:%s", provider, capability)
}

func (t *HealthTracker) probeKey(provider, capability string) string {
	return fmt.Sprintf("health:%s:%s:probe", provider, capability)
}

// windowKeys 当前桶在前
func (t *HealthTracker) windowKeys(provider, capability string, now time.Time) []string {
	bucket := t.cfg.Bucket
	if bucket <= 0 {
		bucket = 30 * time.Second
	}
	n := int((t.cfg.Window + bucket - 1) / bucket)
	if n < 1 {
		n = 1
	}

	current := now.UnixMilli() / bucket.Milliseconds()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, fmt.Sprintf("health:%s:%s:win:%d", provider, capability, current-int64(i)))
	}
	return keys
}

// Report 记录一次调用结果并推导新状态
func (t *HealthTracker) Report(ctx context.Context, provider, capability string, outcome Outcome) (string, error) {
	return t.report(ctx, provider, capability, "", outcome)
}

// ReportProbe 上报探测调用的结果，token 仍持有槽位时才决定 DOWN 的去留
func (t *HealthTracker) ReportProbe(ctx context.Context, provider, capability, token string, outcome Outcome) (string, error) {
	return t.report(ctx, provider, capability, token, outcome)
}

func (t *HealthTracker) report(ctx context.Context, provider, capability, token string, outcome Outcome) (string, error) {
	now := t.now()
	keys := append([]string{t.stateKey(provider, capability), t.probeKey(provider, capability)},
		t.windowKeys(provider, capability, now)...)

	bucketTTL := t.cfg.Window + t.cfg.Bucket
	res, err := reportScript.Run(ctx, t.client, keys,
		now.UnixMilli(),
		string(outcome),
		int64(t.cfg.FailureRateThreshold*1000),
		t.cfg.MinSamples,
		t.cfg.ConsecutiveFailures,
		t.cfg.Cooldown.Milliseconds(),
		bucketTTL.Milliseconds(),
		token,
	).Slice()
	if err != nil {
		return "", fmt.Errorf("report health: %w", err)
	}

	state, _ := res[0].(string)
	changed, _ := res[1].(int64)
	if changed == 1 {
		log.WithFields(log.Fields{
			"provider":   provider,
			"capability": capability,
			"state":      state,
		}).Warn("provider health changed")
		t.persist(ctx, provider, capability)
	}
	return state, nil
}

// State 读取当前状态，未观察过的 provider 视为 HEALTHY
func (t *HealthTracker) State(ctx context.Context, provider, capability string) (string, error) {
	state, err := t.client.HGet(ctx, t.stateKey(provider, capability), "state").Result()
	if err == redis.Nil {
		return model.HealthHealthy, nil
	}
	if err != nil {
		return "", fmt.Errorf("read health: %w", err)
	}
	return state, nil
}

// AcquireProbe 冷却结束后为 DOWN 的 provider 申请唯一的探测槽位，成功时返回持有者 token，否则返回空串
func (t *HealthTracker) AcquireProbe(ctx context.Context, provider, capability string) (string, error) {
	ttl := t.cfg.ProbeTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	token := uuid.NewString()
	n, err := acquireProbeScript.Run(ctx, t.client,
		[]string{t.stateKey(provider, capability), t.probeKey(provider, capability)},
		t.now().UnixMilli(), t.cfg.Cooldown.Milliseconds(), ttl.Milliseconds(), token,
	).Int()
	if err != nil {
		return "", fmt.Errorf("acquire probe: %w", err)
	}
	if n != 1 {
		return "", nil
	}
	return token, nil
}

// ReleaseProbe 释放未使用的探测槽位；槽位已过期或被他人持有时不做任何事
func (t *HealthTracker) ReleaseProbe(ctx context.Context, provider, capability, token string) error {
	if err := releaseProbeScript.Run(ctx, t.client, []string{t.probeKey(provider, capability)}, token).Err(); err != nil {
		return fmt.Errorf("release probe: %w", err)
	}
	return nil
}

// Snapshot 汇总 Redis 中的实时数据
func (t *HealthTracker) Snapshot(ctx context.Context, provider, capability string) (*model.ProviderHealthRecord, error) {
	now := t.now()
	fields, err := t.client.HGetAll(ctx, t.stateKey(provider, capability)).Result()
	if err != nil {
		return nil, fmt.Errorf("read health: %w", err)
	}

	record := &model.ProviderHealthRecord{
		Provider:   provider,
		Capability: capability,
		State:      model.HealthHealthy,
	}
	if s, ok := fields["state"]; ok {
		record.State = s
	}
	record.ConsecutiveFailures, _ = strconv.ParseInt(fields["consecutive"], 10, 64)
	if ms, err := strconv.ParseInt(fields["last_checked"], 10, 64); err == nil {
		record.LastCheckedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["down_since"], 10, 64); err == nil {
		since := time.UnixMilli(ms)
		record.DownSince = &since
	}

	pipe := t.client.Pipeline()
	cmds := make([]*redis.SliceCmd, 0)
	for _, key := range t.windowKeys(provider, capability, now) {
		cmds = append(cmds, pipe.HMGet(ctx, key, "ok", "fail"))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read health window: %w", err)
	}
	for _, cmd := range cmds {
		vals := cmd.Val()
		record.Successes += parseCounter(vals, 0)
		record.Failures += parseCounter(vals, 1)
	}

	return record, nil
}

// Snapshots 列出全部已配置 (provider, capability) 的状态
func (t *HealthTracker) Snapshots(ctx context.Context) ([]*model.ProviderHealthRecord, error) {
	capabilities := make([]string, 0, len(t.capabilities))
	for name := range t.capabilities {
		capabilities = append(capabilities, name)
	}
	sort.Strings(capabilities)

	var records []*model.ProviderHealthRecord
	for _, capability := range capabilities {
		for _, slot := range t.capabilities[capability].Providers {
			record, err := t.Snapshot(ctx, slot.ID, capability)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
	}
	return records, nil
}

// persist 状态变化时写入审计快照，失败不影响调用方
func (t *HealthTracker) persist(ctx context.Context, provider, capability string) {
	if t.healthRepo == nil {
		return
	}
	record, err := t.Snapshot(ctx, provider, capability)
	if err != nil {
		log.WithError(err).Warn("health snapshot failed")
		return
	}
	if err := t.healthRepo.Upsert(record); err != nil {
		log.WithError(err).WithField("provider", provider).Warn("persist health record failed")
	}
}

func parseCounter(vals []interface{}, i int) int64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	s, ok := vals[i].(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
