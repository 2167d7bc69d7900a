package dto

// Balance 账户余额
type Balance struct {
	Bonus        int64 `json:"bonus"`
	Subscription int64 `json:"subscription"`
	Purchased    int64 `json:"purchased"`
	Total        int64 `json:"total"`
}

// LedgerEntryItem 流水列表项
type LedgerEntryItem struct {
	ID           int64  `json:"id"`
	Amount       int64  `json:"amount"`
	Pool         string `json:"pool"`
	BalanceAfter int64  `json:"balance_after"`
	Kind         string `json:"kind"`
	RequestID    *int64 `json:"request_id,omitempty"`
	RefundOf     *int64 `json:"refund_of,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ProviderHealthItem provider 健康状态
type ProviderHealthItem struct {
	Provider            string `json:"provider"`
	Capability          string `json:"capability"`
	State               string `json:"state"`
	Successes           int64  `json:"successes"`
	Failures            int64  `json:"failures"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	LastCheckedAt       string `json:"last_checked_at,omitempty"`
}
