package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/internal/api/middleware"
	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/response"
	"github.com/qs3c/gen_go_server/internal/service"
)

type GenerationHandler struct {
	generationService *service.GenerationService
}

func NewGenerationHandler(generationService *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
	}
}

// Submit 提交生成请求
// POST /api/v1/generations
func (h *GenerationHandler) Submit(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.SubmitGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	result, err := h.generationService.Submit(c.Request.Context(), &service.SubmitInput{
		AccountID:      accountID,
		IdempotencyKey: req.IdempotencyKey,
		Capability:     req.Capability,
		Prompt:         req.Prompt,
		Params:         req.Params,
	})
	if err != nil {
		writeGenerationError(c, err, result)
		return
	}

	response.Success(c, result)
}

// Get 获取请求详情
// GET /api/v1/generations/:id
func (h *GenerationHandler) Get(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的请求ID")
		return
	}

	detail, err := h.generationService.Get(c.Request.Context(), accountID, id)
	if err != nil {
		writeGenerationError(c, err, nil)
		return
	}

	response.Success(c, detail)
}

// List 获取请求列表
// GET /api/v1/generations
func (h *GenerationHandler) List(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, pageSize := pagination(c)
	items, total, err := h.generationService.List(c.Request.Context(), accountID, page, pageSize)
	if err != nil {
		log.WithError(err).WithField("account_id", accountID).Error("list generations failed")
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// RetryBilling 产物已生成但扣费失败时，充值后补扣
// POST /api/v1/generations/:id/billing-retry
func (h *GenerationHandler) RetryBilling(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的请求ID")
		return
	}

	result, err := h.generationService.RetryBilling(c.Request.Context(), accountID, id)
	if err != nil {
		writeGenerationError(c, err, result)
		return
	}

	response.Success(c, result)
}

// writeGenerationError 失败的请求同样返回其终态
func writeGenerationError(c *gin.Context, err error, result *dto.GenerationResult) {
	switch {
	case errors.Is(err, service.ErrUnknownCapability):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrRequestNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrInsufficientCredits):
		response.ErrorWithData(c, response.CodeInsufficientCredits, err.Error(), result)
	case errors.Is(err, service.ErrModerationRejected):
		response.ErrorWithData(c, response.CodeModerationRejected, err.Error(), result)
	case errors.Is(err, service.ErrRequestInProgress):
		response.Accepted(c, result)
	case errors.Is(err, service.ErrNotBillable):
		response.ErrorWithData(c, response.CodeNotBillable, err.Error(), result)
	case errors.Is(err, service.ErrConcurrencyTimeout):
		response.ErrorWithData(c, response.CodeConcurrencyTimeout, err.Error(), result)
	case errors.Is(err, service.ErrAllProvidersExhausted),
		errors.Is(err, service.ErrModerationUnavailable),
		errors.Is(err, service.ErrRequestAbandoned):
		response.ErrorWithData(c, response.CodeServiceUnavailable, err.Error(), result)
	default:
		log.WithError(err).Error("generation request failed")
		response.ServerError(c, "")
	}
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
