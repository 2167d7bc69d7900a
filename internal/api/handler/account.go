package handler

import (
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/internal/api/middleware"
	"github.com/qs3c/gen_go_server/internal/pkg/response"
	"github.com/qs3c/gen_go_server/internal/service"
)

type AccountHandler struct {
	ledgerService *service.LedgerService
}

func NewAccountHandler(ledgerService *service.LedgerService) *AccountHandler {
	return &AccountHandler{ledgerService: ledgerService}
}

// Balance 获取分池余额
// GET /api/v1/account/balance
func (h *AccountHandler) Balance(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	balance, err := h.ledgerService.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		if err == service.ErrAccountNotFound {
			response.NotFoundError(c, err.Error())
			return
		}
		log.WithError(err).WithField("account_id", accountID).Error("get balance failed")
		response.ServerError(c, "")
		return
	}

	response.Success(c, balance)
}

// Ledger 分页获取流水
// GET /api/v1/account/ledger
func (h *AccountHandler) Ledger(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, pageSize := pagination(c)
	items, total, err := h.ledgerService.ListEntries(c.Request.Context(), accountID, page, pageSize)
	if err != nil {
		log.WithError(err).WithField("account_id", accountID).Error("list ledger failed")
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}
