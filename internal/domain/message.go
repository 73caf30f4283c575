package domain

import (
	"errors"
	"time"
)

// Direction 表示邮件的收发方向。
type Direction string

const (
	DirectionReceived Direction = "received" // 接收路径写入
	DirectionSent     Direction = "sent"     // 发信路径写入
)

// Scope 表示邮件列表与批量操作的方向过滤范围。
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeReceived Scope = "received"
	ScopeSent     Scope = "sent"
)

// ErrInvalidScope 表示无法识别的过滤范围。
var ErrInvalidScope = errors.New("invalid message scope")

// ParseScope 解析过滤范围，空字符串默认为 all。
func ParseScope(value string) (Scope, error) {
	switch Scope(value) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeReceived:
		return ScopeReceived, nil
	case ScopeSent:
		return ScopeSent, nil
	default:
		return "", ErrInvalidScope
	}
}

// Message 表示一封临时邮箱内的邮件。
//
// (ReceivedAt, ID) 构成分页的全序：ID 是随机 128 位 UUID，
// 同一时间戳下按 ID 字典序决胜，不依赖任何客户端状态。
type Message struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36);index:idx_messages_page,priority:3"`
	MailboxID   string    `json:"mailboxId" gorm:"type:varchar(36);not null;index:idx_messages_page,priority:1"`
	Direction   Direction `json:"direction" gorm:"type:varchar(10);index;default:received"`
	FromAddress string    `json:"fromAddress" gorm:"type:varchar(255)"`
	ToAddress   *string   `json:"toAddress,omitempty" gorm:"type:varchar(255)"` // 仅发信记录使用
	Subject     string    `json:"subject" gorm:"type:varchar(500)"`
	TextBody    string    `json:"textBody" gorm:"type:text"`
	HTMLBody    string    `json:"htmlBody,omitempty" gorm:"type:text"`
	Starred     bool      `json:"starred" gorm:"default:false;index"`
	CreatedAt   time.Time `json:"createdAt"`
	ReceivedAt  time.Time `json:"receivedAt" gorm:"index:idx_messages_page,priority:2,sort:desc"`

	// 外键级联删除让邮箱删除即刻带走全部邮件，
	// 也挡住并发窗口里写往已删除邮箱的插入。
	Mailbox *Mailbox `json:"-" gorm:"foreignKey:MailboxID;references:ID;constraint:OnDelete:CASCADE"`
}

// PageKey 键集分页游标对应的排序键。
//
// 结果集严格限定在 (ReceivedAt, ID) 之前的行：
// received_at < t OR (received_at = t AND id < key.ID)。
type PageKey struct {
	ReceivedAt time.Time
	ID         string
}

// MessagePage 表示一页邮件及分页信息。
//
// Total 是查询时刻的快照计数，翻后续页时可能已经过期，这是接受的语义。
type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"-"`
	NextCursor string    `json:"nextCursor,omitempty"`
	Total      int       `json:"total"`
}
