package dto

// SubmitGenerationRequest 提交生成请求
type SubmitGenerationRequest struct {
	IdempotencyKey string                 `json:"idempotency_key" binding:"omitempty,max=128"`
	Capability     string                 `json:"capability" binding:"required,max=32"`
	Prompt         string                 `json:"prompt" binding:"required,max=4000"`
	Params         map[string]interface{} `json:"params,omitempty"`
}

// GenerationResult 对调用方返回的结果，同一幂等键多次提交内容一致
type GenerationResult struct {
	RequestID          int64  `json:"request_id"`
	IdempotencyKey     string `json:"idempotency_key"`
	Capability         string `json:"capability"`
	State              string `json:"state"`
	FailureReason      string `json:"failure_reason,omitempty"`
	ModerationCategory string `json:"moderation_category,omitempty"`
	Provider           string `json:"provider,omitempty"`
	ArtifactRef        string `json:"artifact_ref,omitempty"`
	ArchiveURL         string `json:"archive_url,omitempty"`
	Cost               int64  `json:"cost"`
	BillingStatus      string `json:"billing_status"`
	CacheHit           bool   `json:"cache_hit"`
}

// ModerationResult 内容审核结果
type ModerationResult struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Category string `json:"category,omitempty"`
}

// GenerationOutput provider 调用结果
type GenerationOutput struct {
	ArtifactRef string `json:"artifact_ref"`
	Cost        int64  `json:"cost"`
}

// GenerationDetail 请求详情
type GenerationDetail struct {
	GenerationResult
	Attempts  interface{} `json:"attempts,omitempty"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}
