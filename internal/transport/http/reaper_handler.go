package httptransport

import (
	"github.com/gin-gonic/gin"
)

// runReaper 供外部调度器触发一轮清理。
// 已有清理在跑时报 409；分布式锁被其他副本持有时
// 返回 202 且报告里带 skipped 标记。
func (h *Handler) runReaper(c *gin.Context) {
	report, err := h.reaper.RunOnce(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	Accepted(c, report)
}
