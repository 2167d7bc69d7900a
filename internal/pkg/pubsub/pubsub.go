package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/gen_go_server/internal/model"
)

const (
	ChannelGenerationProgress = "generation_progress"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type          string `json:"type"`
	AccountID     int64  `json:"account_id"`
	RequestID     int64  `json:"request_id"`
	State         string `json:"state"`
	Provider      string `json:"provider,omitempty"`
	Progress      int    `json:"progress"`
	Message       string `json:"message,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	ArtifactRef   string `json:"artifact_ref,omitempty"`
}

// 状态对应的进度百分比
var StateProgress = map[string]int{
	model.StateReceived:     5,
	model.StateModerated:    15,
	model.StateCacheChecked: 25,
	model.StateCacheHit:     90,
	model.StateRouted:       30,
	model.StateGenerating:   50,
	model.StateRetry:        50,
	model.StateSuccess:      75,
	model.StateCharged:      85,
	model.StateCached:       95,
	model.StateAllFailed:    100,
	model.StateDone:         100,
	model.StateFailed:       100,
}

// 状态对应的消息
var StateMessages = map[string]string{
	model.StateReceived:     "request received",
	model.StateModerated:    "content check passed",
	model.StateCacheChecked: "no similar result cached",
	model.StateCacheHit:     "served from cache",
	model.StateRouted:       "provider selected",
	model.StateGenerating:   "generating",
	model.StateRetry:        "retrying with next provider",
	model.StateSuccess:      "generation finished",
	model.StateCharged:      "credits charged",
	model.StateCached:       "result cached",
	model.StateAllFailed:    "all providers failed",
	model.StateDone:         "done",
	model.StateFailed:       "failed",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Type = "generation_progress"

	// 自动填充进度和消息
	if msg.Progress == 0 && msg.State != "" {
		if progress, ok := StateProgress[msg.State]; ok {
			msg.Progress = progress
		}
	}
	if msg.Message == "" && msg.State != "" {
		if message, ok := StateMessages[msg.State]; ok {
			msg.Message = message
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelGenerationProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelGenerationProgress)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
