package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/gen_go_server/internal/model"
	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/response"
)

func TestAccountHandler_Balance(t *testing.T) {
	f, cleanup := setupHandlerFixture(t)
	defer cleanup()

	ctx := context.Background()
	account, err := f.ledger.OpenAccount(ctx, "free")
	require.NoError(t, err)
	_, err = f.ledger.GrantBonus(ctx, account.ID, 5, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	_, err = f.ledger.Purchase(ctx, account.ID, 7, "top-up")
	require.NoError(t, err)

	router := gin.New()
	router.Use(mockAuth(account.ID))
	router.GET("/account/balance", NewAccountHandler(f.ledger).Balance)

	w := performRequest(router, "GET", "/account/balance", nil)
	resp := parseResponse(t, w)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var balance dto.Balance
	decodeData(t, resp, &balance)
	assert.Equal(t, int64(5), balance.Bonus)
	assert.Equal(t, int64(30), balance.Subscription)
	assert.Equal(t, int64(7), balance.Purchased)
	assert.Equal(t, int64(42), balance.Total)
}

func TestAccountHandler_Balance_UnknownAccount(t *testing.T) {
	f, cleanup := setupHandlerFixture(t)
	defer cleanup()

	router := gin.New()
	router.Use(mockAuth(424242))
	router.GET("/account/balance", NewAccountHandler(f.ledger).Balance)

	w := performRequest(router, "GET", "/account/balance", nil)
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
}

func TestAccountHandler_Ledger(t *testing.T) {
	f, cleanup := setupHandlerFixture(t)
	defer cleanup()

	ctx := context.Background()
	account, err := f.ledger.OpenAccount(ctx, "free")
	require.NoError(t, err)
	_, err = f.ledger.Purchase(ctx, account.ID, 7, "top-up")
	require.NoError(t, err)

	router := gin.New()
	router.Use(mockAuth(account.ID))
	router.GET("/account/ledger", NewAccountHandler(f.ledger).Ledger)

	w := performRequest(router, "GET", "/account/ledger?page=1&page_size=1", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	var page struct {
		Total    int64                  `json:"total"`
		PageSize int                    `json:"page_size"`
		Items    []*dto.LedgerEntryItem `json:"items"`
	}
	decodeData(t, resp, &page)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 1, page.PageSize)
	require.Len(t, page.Items, 1)
	assert.Equal(t, model.KindPurchase, page.Items[0].Kind)
}
