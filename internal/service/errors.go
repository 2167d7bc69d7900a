package service

import "errors"

var (
	ErrModerationRejected    = errors.New("内容未通过审核")
	ErrModerationUnavailable = errors.New("内容审核服务不可用")
	ErrInsufficientCredits   = errors.New("积分不足")
	ErrProviderTimeout       = errors.New("生成服务调用超时")
	ErrProviderError         = errors.New("生成服务调用失败")
	ErrAllProvidersExhausted = errors.New("所有生成服务均不可用")
	ErrConcurrencyTimeout    = errors.New("账户繁忙，等待锁超时")
	ErrRequestInProgress     = errors.New("相同幂等键的请求仍在处理中")
	ErrRequestNotFound       = errors.New("生成请求不存在")
	ErrRequestAbandoned      = errors.New("请求执行中断，已放弃")
	ErrUnknownCapability     = errors.New("不支持的生成能力")
	ErrUnknownServiceType    = errors.New("未知的计费类型")
	ErrNotBillable           = errors.New("请求不需要补扣费")
	ErrAlreadyRefunded       = errors.New("流水已冲正")
	ErrNotDebit              = errors.New("只能冲正扣费流水")
	ErrLedgerMismatch        = errors.New("账本重放结果与余额不一致")
	ErrAccountNotFound       = errors.New("账户不存在")
	ErrEntryNotFound         = errors.New("流水不存在")
	ErrUnknownPlan           = errors.New("未知的套餐")
	ErrInvalidExpiry         = errors.New("到期时间必须晚于当前时间")
	ErrInvalidAmount         = errors.New("金额必须为正数")
)
