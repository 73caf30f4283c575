// Package cursor 实现邮件列表键集分页游标的编解码。
//
// 游标是 (时间戳毫秒, 邮件ID) 元组的不透明封装：选择键集分页而不是偏移量，
// 是因为收件路径在翻页过程中持续写入新行，基于偏移量的分页会跳行或重复。
// 调用方不得依赖令牌的内部结构。
package cursor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCursor 表示游标格式非法。
//
// 区别于"未携带游标"：空游标是合法的首页请求，非法游标必须显式报错。
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// Encode 将 (时间戳毫秒, 邮件ID) 编码为不透明游标。
func Encode(timestampMillis int64, id string) string {
	raw := fmt.Sprintf("%d:%s", timestampMillis, id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode 解码游标，还原 (时间戳毫秒, 邮件ID)。
// 任何形式的畸形输入都返回 ErrInvalidCursor。
func Decode(token string) (int64, string, error) {
	if token == "" {
		return 0, "", ErrInvalidCursor
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, "", ErrInvalidCursor
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", ErrInvalidCursor
	}

	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || millis < 0 {
		return 0, "", ErrInvalidCursor
	}

	return millis, parts[1], nil
}
