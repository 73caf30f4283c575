package cursor

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("往返编解码", func(t *testing.T) {
		millis, id, err := Decode(Encode(1735689600123, "a3f1c2d4-0000-4000-8000-000000000001"))
		require.NoError(t, err)
		assert.Equal(t, int64(1735689600123), millis)
		assert.Equal(t, "a3f1c2d4-0000-4000-8000-000000000001", id)
	})

	t.Run("零时间戳", func(t *testing.T) {
		millis, id, err := Decode(Encode(0, "x"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), millis)
		assert.Equal(t, "x", id)
	})

	t.Run("ID内含冒号", func(t *testing.T) {
		millis, id, err := Decode(Encode(42, "a:b:c"))
		require.NoError(t, err)
		assert.Equal(t, int64(42), millis)
		assert.Equal(t, "a:b:c", id)
	})

	t.Run("令牌不可猜测结构", func(t *testing.T) {
		token := Encode(1735689600123, "abc")
		assert.NotContains(t, token, ":")
		assert.NotContains(t, token, "=")
	})
}

func TestDecodeInvalid(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"空令牌", ""},
		{"非base64", "!!!not-base64!!!"},
		{"缺少分隔符", base64.RawURLEncoding.EncodeToString([]byte("1735689600123"))},
		{"时间戳非数字", base64.RawURLEncoding.EncodeToString([]byte("abc:id"))},
		{"时间戳为负", base64.RawURLEncoding.EncodeToString([]byte("-1:id"))},
		{"ID为空", base64.RawURLEncoding.EncodeToString([]byte("123:"))},
		{"标准base64填充", base64.StdEncoding.EncodeToString([]byte("123:id-with-padding-needed"))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode(tc.token)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}
