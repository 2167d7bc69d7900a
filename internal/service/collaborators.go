package service

import (
	"context"

	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/gen_go_server/internal/pkg/queue"
)

// ModerationService 内容审核
type ModerationService interface {
	Check(ctx context.Context, prompt string) (*dto.ModerationResult, error)
}

// EmbeddingService 文本向量
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderClient 外部生成后端，具体协议不做假设
type ProviderClient interface {
	Generate(ctx context.Context, capability, prompt string, params map[string]interface{}) (*dto.GenerationOutput, error)
}

// ProviderSet provider id 到客户端
type ProviderSet map[string]ProviderClient

// ArtifactArchiver 归档生成结果清单
type ArtifactArchiver interface {
	UploadManifest(requestID int64, data []byte) (string, error)
}

// ProgressPublisher 推送状态变化
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// JobEnqueuer 投递异步任务（补扣费、恢复）
type JobEnqueuer interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}
