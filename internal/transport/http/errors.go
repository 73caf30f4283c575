package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/mmaxou/Moemail-for-University/internal/cursor"
	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/service"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

// 通用错误消息
const (
	MsgInvalidRequest  = "请求参数格式错误"
	MsgInvalidDuration = "过期时间格式无效"
	MsgInvalidAction   = "不支持的批量操作"
	MsgInternalError   = "服务器内部错误，请稍后重试"
)

// 业务错误对应的中文消息
var errorMessages = map[error]string{
	service.ErrDomainNotAllowed:  "域名不在允许列表中",
	service.ErrPrefixInvalid:     "邮箱前缀格式无效",
	service.ErrMailboxLimit:      "邮箱数量已达上限",
	service.ErrRedemptionPartial: "兑换码已使用但邮箱发放失败，请联系管理员",
	service.ErrReaperBusy:        "清理任务正在进行中",
	storage.ErrMailboxNotFound:   "邮箱不存在",
	storage.ErrMessageNotFound:   "邮件不存在",
	storage.ErrAddressTaken:      "邮箱地址已被占用",
	storage.ErrQuotaExceeded:     "今日发信配额已用完",
	storage.ErrCodeNotFound:      "兑换码不存在",
	storage.ErrCodeUsed:          "兑换码已被使用",
	cursor.ErrInvalidCursor:      "分页游标无效",
	domain.ErrInvalidScope:       "邮件范围参数无效",
}

// GetErrorMessage 获取错误的中文消息。
func GetErrorMessage(err error) string {
	for sentinel, msg := range errorMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return err.Error()
}

// writeError 把业务错误统一映射到 HTTP 响应。
// 处理器只对需要特殊语义的错误单独分支，其余都走这里。
func writeError(c *gin.Context, err error) {
	msg := GetErrorMessage(err)

	switch {
	case errors.Is(err, cursor.ErrInvalidCursor),
		errors.Is(err, domain.ErrInvalidScope),
		errors.Is(err, service.ErrDomainNotAllowed),
		errors.Is(err, service.ErrPrefixInvalid):
		BadRequest(c, msg)
	case errors.Is(err, service.ErrMailboxLimit):
		Forbidden(c, msg)
	case errors.Is(err, storage.ErrMailboxNotFound),
		errors.Is(err, storage.ErrMessageNotFound),
		errors.Is(err, storage.ErrCodeNotFound):
		NotFound(c, msg)
	case errors.Is(err, storage.ErrAddressTaken),
		errors.Is(err, storage.ErrCodeUsed),
		errors.Is(err, service.ErrReaperBusy):
		Conflict(c, msg)
	case errors.Is(err, storage.ErrQuotaExceeded):
		TooManyRequests(c, msg)
	case errors.Is(err, service.ErrRedemptionPartial):
		// 占用已发生，不能按普通失败重试
		Error(c, 502, msg)
	default:
		InternalError(c, MsgInternalError)
	}
}
