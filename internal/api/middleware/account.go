package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/internal/pkg/response"
	"github.com/qs3c/gen_go_server/internal/service"
)

// RequireAccount 令牌有效但账户已不存在时拒绝请求
func RequireAccount(ledgerService *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := GetAccountID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		if _, err := ledgerService.GetBalance(c.Request.Context(), accountID); err != nil {
			if errors.Is(err, service.ErrAccountNotFound) {
				response.AuthError(c, "账户不存在")
			} else {
				log.WithError(err).WithField("account_id", accountID).Error("account check failed")
				response.ServerError(c, "账户检查失败")
			}
			c.Abort()
			return
		}

		c.Next()
	}
}
