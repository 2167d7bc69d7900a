package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/internal/pkg/jwt"
	"github.com/qs3c/gen_go_server/internal/pkg/ws"
)

type WebSocketHandler struct {
	hub       *ws.Hub
	jwtSecret string
	upgrader  websocket.Upgrader
}

// NewWebSocketHandler allowedOrigins 为空时不校验 Origin
func NewWebSocketHandler(hub *ws.Hub, jwtSecret string, allowedOrigins []string) *WebSocketHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &WebSocketHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handle 订阅当前账户的生成进度
// GET /api/v1/ws?token=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := jwt.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).WithField("account_id", claims.AccountID).Warn("websocket upgrade failed")
		return
	}

	client := &ws.Client{
		AccountID: claims.AccountID,
		Conn:      conn,
	}

	h.hub.Register(client)

	// 只读不处理，用于感知断开
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
