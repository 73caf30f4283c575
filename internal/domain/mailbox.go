package domain

import (
	"time"
)

// Mailbox 表示临时邮箱的业务实体。
//
// Address 始终以小写形式存储，唯一索引因此等价于大小写不敏感的唯一约束；
// 邮箱删除后地址立即可以被重新注册。
type Mailbox struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address   string    `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	LocalPart string    `json:"localPart" gorm:"type:varchar(255)"`
	Domain    string    `json:"domain" gorm:"type:varchar(100);index"`
	OwnerID   *string   `json:"ownerId,omitempty" gorm:"type:varchar(36);index"` // 关联的用户ID（可选，游客模式为nil）
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"index"`
}

// Expired 判断邮箱在指定时间点是否已过期。
func (m *Mailbox) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}

// ExpiryKey 是按 (expires_at, id) 升序遍历过期邮箱的键集游标。
type ExpiryKey struct {
	ExpiresAt time.Time
	ID        string
}

// ExpiryKeyOf 返回邮箱对应的遍历游标。
func ExpiryKeyOf(m *Mailbox) ExpiryKey {
	return ExpiryKey{ExpiresAt: m.ExpiresAt, ID: m.ID}
}
