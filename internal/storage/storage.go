package storage

import (
	"errors"
	"time"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱未找到错误
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMessageNotFound 邮件未找到错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrAddressTaken 邮箱地址已被占用错误
	ErrAddressTaken = errors.New("mailbox address already taken")
	// ErrQuotaExceeded 当日发信配额耗尽错误
	ErrQuotaExceeded = errors.New("daily send quota exceeded")
	// ErrCodeNotFound 兑换码不存在错误
	ErrCodeNotFound = errors.New("redemption code not found")
	// ErrCodeExists 兑换码已存在错误
	ErrCodeExists = errors.New("redemption code already exists")
	// ErrCodeUsed 兑换码已被使用错误
	ErrCodeUsed = errors.New("redemption code already used")
	// ErrStoreUnavailable 存储不可用错误（连接中断等瞬时故障）
	ErrStoreUnavailable = errors.New("store unavailable")
)

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	SaveMailbox(mailbox *domain.Mailbox) error
	GetMailbox(id string) (*domain.Mailbox, error)
	GetMailboxByAddress(address string) (*domain.Mailbox, error)
	ListMailboxesByOwner(ownerID string) ([]domain.Mailbox, error)
	CountMailboxesByOwner(ownerID string) (int, error)
	DeleteMailbox(id string) error // 级联删除邮箱及其全部邮件
	// ListExpiredMailboxes 按 (expires_at, id) 升序返回过期邮箱。
	// after 为 nil 时从头开始，否则只返回游标之后的行；limit <= 0 表示不限量。
	ListExpiredMailboxes(before time.Time, after *domain.ExpiryKey, limit int) ([]domain.Mailbox, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	SaveMessage(message *domain.Message) error
	GetMessage(mailboxID, messageID string) (*domain.Message, error)
	// PageMessages 按 (received_at, id) 降序键集分页。
	// after 为 nil 时返回首页；返回页内的 Total 是查询时刻的快照计数。
	PageMessages(mailboxID string, after *domain.PageKey, scope domain.Scope, limit int) (*domain.MessagePage, error)
	SetMessageStarred(mailboxID, messageID string, starred bool) error
	DeleteMessage(mailboxID, messageID string) (bool, error)
	DeleteMessagesByIDs(mailboxID string, ids []string) ([]string, error)   // 返回实际删除的ID
	DeleteMessagesByScope(mailboxID string, scope domain.Scope) ([]string, error) // 返回实际删除的ID
	// DeleteMessagesOlderThan 删除 received_at 早于 cutoff 的邮件，
	// excludeStarred 为 true 时跳过星标邮件，单次最多删除 limit 行。
	DeleteMessagesOlderThan(cutoff time.Time, excludeStarred bool, limit int) (int, error)
}

// QuotaRepository 定义每日发信配额操作。
type QuotaRepository interface {
	GetDailyCounter(date string) (*domain.DailyCounter, error)
	// IncrementDailyCounter 原子自增指定日期的计数。
	// 计数行不存在时惰性创建；已达上限时返回 ErrQuotaExceeded 且计数不变。
	IncrementDailyCounter(date string) (*domain.DailyCounter, error)
}

// RedemptionRepository 定义兑换码数据存取操作。
type RedemptionRepository interface {
	SaveRedemptionCode(code *domain.RedemptionCode) error
	GetRedemptionCode(code string) (*domain.RedemptionCode, error)
	// ConsumeRedemptionCode 以条件更新方式占用兑换码。
	// 并发争用下恰有一个调用成功，其余返回 ErrCodeUsed。
	ConsumeRedemptionCode(code, userID string) (*domain.RedemptionCode, error)
}

// Store 定义完整的存储接口。
type Store interface {
	MailboxRepository
	MessageRepository
	QuotaRepository
	RedemptionRepository

	// 工具方法
	Close() error
	Health() error
}
