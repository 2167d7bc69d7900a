package aiclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model/dto"
)

var ErrEmptyEmbedding = errors.New("embedding response has no data")

// Client 基于 OpenAI 兼容接口的审核与向量服务
type Client struct {
	client          *openai.Client
	embeddingModel  openai.EmbeddingModel
	moderationModel string
}

func NewClient(cfg *config.OpenAIConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	embeddingModel := openai.SmallEmbedding3
	if cfg.EmbeddingModel != "" {
		embeddingModel = openai.EmbeddingModel(cfg.EmbeddingModel)
	}

	return &Client{
		client:          openai.NewClientWithConfig(clientCfg),
		embeddingModel:  embeddingModel,
		moderationModel: cfg.ModerationModel,
	}
}

// Embed 计算文本向量
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// Check 内容审核，命中任一类别即拒绝
func (c *Client) Check(ctx context.Context, prompt string) (*dto.ModerationResult, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: prompt,
		Model: c.moderationModel,
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: %w", err)
	}

	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}
		category := flaggedCategory(result.Categories)
		return &dto.ModerationResult{
			Allowed:  false,
			Reason:   "content flagged: " + category,
			Category: category,
		}, nil
	}

	return &dto.ModerationResult{Allowed: true}, nil
}

func flaggedCategory(c openai.ResultCategories) string {
	categories := []struct {
		name    string
		flagged bool
	}{
		{"sexual/minors", c.SexualMinors},
		{"self-harm/instructions", c.SelfHarmInstructions},
		{"self-harm/intent", c.SelfHarmIntent},
		{"self-harm", c.SelfHarm},
		{"hate/threatening", c.HateThreatening},
		{"hate", c.Hate},
		{"harassment/threatening", c.HarassmentThreatening},
		{"harassment", c.Harassment},
		{"violence/graphic", c.ViolenceGraphic},
		{"violence", c.Violence},
		{"sexual", c.Sexual},
	}
	for _, cat := range categories {
		if cat.flagged {
			return cat.name
		}
	}
	return "unspecified"
}
