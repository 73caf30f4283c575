package domain

import "time"

// DefaultDailyMaxCount 每日发信数量的默认上限。
const DefaultDailyMaxCount = 100

// DailyCounter 表示按自然日统计的发信配额计数。
//
// 每个日期只有一行，首次使用时惰性创建；
// 任何成功的自增之后必须满足 0 <= SentCount <= MaxCount，
// 会越界的自增被拒绝而不是截断。
type DailyCounter struct {
	ID        string    `json:"-" gorm:"primaryKey;type:varchar(36)"`
	Date      string    `json:"date" gorm:"type:varchar(10);uniqueIndex"` // YYYY-MM-DD
	SentCount int       `json:"sentCount" gorm:"default:0"`
	MaxCount  int       `json:"maxCount" gorm:"default:100"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// DateKey 返回指定时间所在自然日的计数键（UTC）。
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
