package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model"
	"github.com/qs3c/gen_go_server/internal/repository"
)

// CacheLookup 一次查找的结果，Entry 为 nil 表示未命中
type CacheLookup struct {
	Entry     *model.CacheEntry
	Score     float64
	Embedding []float32
}

// SimilarityCache 基于向量余弦相似度的结果复用
type SimilarityCache struct {
	cacheRepo *repository.CacheRepository
	embedder  EmbeddingService
	client    *redis.Client
	cfg       config.CacheConfig
}

func NewSimilarityCache(cacheRepo *repository.CacheRepository, embedder EmbeddingService, client *redis.Client, cfg *config.Config) *SimilarityCache {
	return &SimilarityCache{
		cacheRepo: cacheRepo,
		embedder:  embedder,
		client:    client,
		cfg:       cfg.Cache,
	}
}

// NormalizePrompt 折叠空白并转小写
func NormalizePrompt(prompt string) string {
	return strings.ToLower(strings.Join(strings.Fields(prompt), " "))
}

// Fingerprint BLAKE2b-256 十六进制摘要
func Fingerprint(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ParamsFingerprint json.Marshal 对 map 键排序，结果稳定
func ParamsFingerprint(params map[string]interface{}) (string, error) {
	if len(params) == 0 {
		return Fingerprint("{}"), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return Fingerprint(string(data)), nil
}

func (c *SimilarityCache) memoKey(promptHash string) string {
	return "cache:embedding:" + promptHash
}

// Embedding 先查 Redis 中的向量缓存，未命中再调用向量服务
func (c *SimilarityCache) Embedding(ctx context.Context, normalizedPrompt string) ([]float32, error) {
	key := c.memoKey(Fingerprint(normalizedPrompt))

	if c.client != nil {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var vec []float32
			if json.Unmarshal(data, &vec) == nil && len(vec) > 0 {
				return vec, nil
			}
		} else if err != redis.Nil {
			log.WithError(err).Warn("read embedding memo failed")
		}
	}

	vec, err := c.embedder.Embed(ctx, normalizedPrompt)
	if err != nil {
		return nil, err
	}

	if c.client != nil {
		if data, err := json.Marshal(vec); err == nil {
			if err := c.client.Set(ctx, key, data, c.cfg.EmbeddingTTL).Err(); err != nil {
				log.WithError(err).Warn("write embedding memo failed")
			}
		}
	}
	return vec, nil
}

// Lookup 在同能力、同参数的条目中找相似度最高且不低于阈值的一条；向量失败按未命中处理
func (c *SimilarityCache) Lookup(ctx context.Context, capability, normalizedPrompt string, params map[string]interface{}) (*CacheLookup, error) {
	if !c.cfg.Enabled {
		return &CacheLookup{}, nil
	}

	paramsHash, err := ParamsFingerprint(params)
	if err != nil {
		return nil, err
	}

	vec, err := c.Embedding(ctx, normalizedPrompt)
	if err != nil {
		log.WithError(err).WithField("capability", capability).Warn("embedding unavailable, treating as cache miss")
		return &CacheLookup{}, nil
	}

	result := &CacheLookup{Embedding: vec}

	// 提示词完全相同的条目走索引直接命中
	exact, err := c.cacheRepo.FindExact(capability, paramsHash, Fingerprint(normalizedPrompt))
	switch {
	case err == nil:
		result.Entry = exact
		result.Score = 1
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := c.scan(capability, paramsHash, vec, result); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("find exact cache entry: %w", err)
	}

	if result.Entry != nil {
		if err := c.cacheRepo.IncrementHits(result.Entry.ID); err != nil {
			log.WithError(err).WithField("cache_entry_id", result.Entry.ID).Warn("increment cache hits failed")
		}
	}
	return result, nil
}

// scan 按 ID 从新到旧分批扫描全部候选，相同分数保留先遇到的那条
func (c *SimilarityCache) scan(capability, paramsHash string, vec []float32, result *CacheLookup) error {
	batch := c.cfg.MaxCandidates
	if batch <= 0 {
		batch = 1000
	}

	var beforeID int64
	for {
		entries, err := c.cacheRepo.ListCandidates(capability, paramsHash, beforeID, batch)
		if err != nil {
			return fmt.Errorf("list cache candidates: %w", err)
		}
		for _, entry := range entries {
			candidate, err := entry.Vector()
			if err != nil || len(candidate) == 0 {
				continue
			}
			score := CosineSimilarity(vec, candidate)
			if score >= c.cfg.SimilarityThreshold && score > result.Score {
				result.Entry = entry
				result.Score = score
			}
		}
		if len(entries) < batch {
			return nil
		}
		beforeID = entries[len(entries)-1].ID
	}
}

// Insert 生成成功后写入新条目；embedding 为空时重新计算，仍失败则只存指纹
func (c *SimilarityCache) Insert(ctx context.Context, capability, normalizedPrompt string, params map[string]interface{}, artifactRef string, sourceRequestID *int64, embedding []float32) (*model.CacheEntry, error) {
	paramsHash, err := ParamsFingerprint(params)
	if err != nil {
		return nil, err
	}

	entry := &model.CacheEntry{
		Capability:       capability,
		ParamsHash:       paramsHash,
		PromptHash:       Fingerprint(normalizedPrompt),
		NormalizedPrompt: normalizedPrompt,
		ArtifactRef:      artifactRef,
		SourceRequestID:  sourceRequestID,
	}

	if len(embedding) == 0 {
		embedding, err = c.Embedding(ctx, normalizedPrompt)
		if err != nil {
			log.WithError(err).Warn("embedding unavailable, cache entry stored without vector")
		}
	}
	if len(embedding) > 0 {
		if err := entry.SetVector(embedding); err != nil {
			return nil, err
		}
	}

	if err := c.cacheRepo.Create(entry); err != nil {
		return nil, fmt.Errorf("insert cache entry: %w", err)
	}
	return entry, nil
}

// CosineSimilarity 维度不一致或零向量返回 0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
