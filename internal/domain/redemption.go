package domain

import (
	"strings"
	"time"
)

// RedemptionKind 表示兑换码类型。
type RedemptionKind string

const (
	// KindAutoMailbox A 类：兑换后自动创建随机前缀邮箱。
	KindAutoMailbox RedemptionKind = "A"
	// KindCustomMailbox B 类：兑换时由用户指定邮箱前缀。
	KindCustomMailbox RedemptionKind = "B"
)

// RedemptionCode 表示一次性兑换码。
//
// used 一旦变为 true，该行连同 UsedBy/UsedAt 不再改变；
// false -> true 的转换在并发兑换下至多发生一次，由存储层的
// 条件更新保证，而不是进程内锁。
type RedemptionCode struct {
	ID        string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Code      string         `json:"code" gorm:"type:varchar(64);uniqueIndex"`
	Kind      RedemptionKind `json:"kind" gorm:"type:varchar(1)"`
	Used      bool           `json:"used" gorm:"default:false;index"`
	UsedBy    *string        `json:"usedBy,omitempty" gorm:"type:varchar(36)"`
	UsedAt    *time.Time     `json:"usedAt,omitempty"`
	CreatedBy *string        `json:"createdBy,omitempty" gorm:"type:varchar(36)"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NormalizeCode 归一化兑换码：去除首尾空白并统一为大写，
// 使唯一索引等价于大小写不敏感比较。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
