package handler

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/response"
	"github.com/qs3c/gen_go_server/internal/service"
)

type ProvidersHandler struct {
	health *service.HealthTracker
}

func NewProvidersHandler(health *service.HealthTracker) *ProvidersHandler {
	return &ProvidersHandler{health: health}
}

// Health 各 provider 在各能力上的健康状态
// GET /api/v1/providers/health
func (h *ProvidersHandler) Health(c *gin.Context) {
	records, err := h.health.Snapshots(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("provider health snapshot failed")
		response.ServerError(c, "")
		return
	}

	items := make([]*dto.ProviderHealthItem, 0, len(records))
	for _, r := range records {
		item := &dto.ProviderHealthItem{
			Provider:            r.Provider,
			Capability:          r.Capability,
			State:               r.State,
			Successes:           r.Successes,
			Failures:            r.Failures,
			ConsecutiveFailures: r.ConsecutiveFailures,
		}
		if !r.LastCheckedAt.IsZero() {
			item.LastCheckedAt = r.LastCheckedAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Capability != items[j].Capability {
			return items[i].Capability < items[j].Capability
		}
		return items[i].Provider < items[j].Provider
	})

	response.Success(c, gin.H{
		"providers": items,
	})
}
