package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// 生成请求状态机
const (
	StateReceived     = "RECEIVED"
	StateModerated    = "MODERATED"
	StateCacheChecked = "CACHE_CHECKED"
	StateCacheHit     = "CACHE_HIT"
	StateRouted       = "ROUTED"
	StateGenerating   = "GENERATING"
	StateRetry        = "RETRY"
	StateSuccess      = "SUCCESS"
	StateCharged      = "CHARGED"
	StateCached       = "CACHED"
	StateAllFailed    = "ALL_FAILED"
	StateDone         = "DONE"
	StateFailed       = "FAILED"
)

// 失败原因
const (
	ReasonModerationRejected    = "ModerationRejected"
	ReasonModerationUnavailable = "ModerationUnavailable"
	ReasonInsufficientCredits   = "InsufficientCredits"
	ReasonConcurrencyTimeout    = "ConcurrencyTimeout"
	ReasonAllProvidersExhausted = "AllProvidersExhausted"
	ReasonAbandoned             = "Abandoned"
)

// 计费状态
const (
	BillingNone     = "none"
	BillingBilled   = "billed"
	BillingUnbilled = "unbilled"
	BillingFree     = "free"
)

type GenerationRequest struct {
	ID                 int64          `gorm:"primaryKey" json:"id"`
	AccountID          int64          `gorm:"not null;uniqueIndex:ux_account_idempotency,priority:1" json:"account_id"`
	IdempotencyKey     string         `gorm:"size:128;not null;uniqueIndex:ux_account_idempotency,priority:2" json:"idempotency_key"`
	Capability         string         `gorm:"size:32;not null" json:"capability"`
	Prompt             string         `gorm:"type:text" json:"prompt"`
	NormalizedPrompt   string         `gorm:"type:text" json:"normalized_prompt"`
	Params             datatypes.JSON `json:"params,omitempty"`
	State              string         `gorm:"size:20;not null;index" json:"state"`
	FailureReason      string         `gorm:"size:40" json:"failure_reason,omitempty"`
	FailureDetail      string         `gorm:"type:text" json:"failure_detail,omitempty"`
	ModerationCategory string         `gorm:"size:64" json:"moderation_category,omitempty"`
	Tier               string         `gorm:"size:20" json:"tier,omitempty"`
	Candidates         datatypes.JSON `json:"candidates,omitempty"`
	AttemptIndex       int            `gorm:"not null;default:0" json:"attempt_index"`
	Attempts           datatypes.JSON `json:"attempts,omitempty"`
	Provider           string         `gorm:"size:64" json:"provider,omitempty"`
	ProviderCost       int64          `json:"provider_cost"`
	Cost               int64          `json:"cost"`
	BillingStatus      string         `gorm:"size:20;not null;default:none;index" json:"billing_status"`
	BillingAttempts    int            `gorm:"not null;default:0" json:"billing_attempts"`
	LedgerEntryIDs     datatypes.JSON `json:"ledger_entry_ids,omitempty"`
	ArtifactRef        string         `gorm:"size:1000" json:"artifact_ref,omitempty"`
	ArchiveURL         string         `gorm:"size:500" json:"archive_url,omitempty"`
	CacheEntryID       *int64         `json:"cache_entry_id,omitempty"`
	CacheHit           bool           `gorm:"not null;default:false" json:"cache_hit"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `gorm:"index" json:"updated_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
}

func (GenerationRequest) TableName() string {
	return "generation_requests"
}

// IsTerminal DONE / FAILED 为终态
func IsTerminal(state string) bool {
	return state == StateDone || state == StateFailed
}

// RouteCandidate 路由给出的一个候选 provider
type RouteCandidate struct {
	Provider string `json:"provider"`
	Tier     string `json:"tier"`
	Cost     int64  `json:"cost"`
	// ProbeToken 非空表示该候选持有 DOWN provider 的探测槽位
	ProbeToken string `json:"probe_token,omitempty"`
}

// IsProbe 是否为探测候选
func (c RouteCandidate) IsProbe() bool {
	return c.ProbeToken != ""
}

// AttemptRecord 一次 provider 调用记录
type AttemptRecord struct {
	Provider  string    `json:"provider"`
	Outcome   string    `json:"outcome"` // success, failure, timeout
	Error     string    `json:"error,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms"`
	At        time.Time `json:"at"`
}

func (r *GenerationRequest) ParamMap() (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if len(r.Params) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func (r *GenerationRequest) CandidateList() ([]RouteCandidate, error) {
	if len(r.Candidates) == 0 {
		return nil, nil
	}
	var list []RouteCandidate
	if err := json.Unmarshal(r.Candidates, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *GenerationRequest) SetCandidates(list []RouteCandidate) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	r.Candidates = datatypes.JSON(data)
	return nil
}

func (r *GenerationRequest) AttemptLog() ([]AttemptRecord, error) {
	if len(r.Attempts) == 0 {
		return nil, nil
	}
	var log []AttemptRecord
	if err := json.Unmarshal(r.Attempts, &log); err != nil {
		return nil, err
	}
	return log, nil
}

func (r *GenerationRequest) AppendAttempt(rec AttemptRecord) error {
	log, err := r.AttemptLog()
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(log, rec))
	if err != nil {
		return err
	}
	r.Attempts = datatypes.JSON(data)
	return nil
}

func (r *GenerationRequest) EntryIDs() ([]int64, error) {
	if len(r.LedgerEntryIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(r.LedgerEntryIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GenerationRequest) SetEntryIDs(ids []int64) error {
	if len(ids) == 0 {
		r.LedgerEntryIDs = nil
		return nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	r.LedgerEntryIDs = datatypes.JSON(data)
	return nil
}
