package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/service"
)

type quotaResponse struct {
	Date      string `json:"date"`
	SentCount int    `json:"sentCount"`
	MaxCount  int    `json:"maxCount"`
	Remaining int    `json:"remaining"`
}

// getDailyQuota 返回今日配额快照。
// 今日尚无计数行时返回零用量视图，不落库。
func (h *Handler) getDailyQuota(c *gin.Context) {
	counter, err := h.quota.Snapshot(c.Request.Context(), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	Success(c, toQuotaResponse(counter))
}

// consumeDailyQuota 消耗一次今日配额。
// 上限耗尽时报 429，计数保持不变。
func (h *Handler) consumeDailyQuota(c *gin.Context) {
	counter, err := h.quota.TryIncrement(c.Request.Context(), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	Success(c, toQuotaResponse(counter))
}

func toQuotaResponse(counter *domain.DailyCounter) quotaResponse {
	return quotaResponse{
		Date:      counter.Date,
		SentCount: counter.SentCount,
		MaxCount:  counter.MaxCount,
		Remaining: service.Remaining(counter),
	}
}
