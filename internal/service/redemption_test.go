package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
	"github.com/mmaxou/Moemail-for-University/internal/storage/memory"
)

func newRedemptionFixture(t *testing.T) (*memory.Store, *RedemptionService) {
	t.Helper()
	store := memory.NewStore(100)
	mailboxes := NewMailboxService(store, testConfig())
	svc := NewRedemptionService(store, mailboxes, zap.NewNop())
	return store, svc
}

func TestRedemptionService_Redeem(t *testing.T) {
	t.Run("A类发放随机邮箱", func(t *testing.T) {
		_, svc := newRedemptionFixture(t)
		_, err := svc.CreateCode("WELCOME-A", domain.KindAutoMailbox, nil)
		require.NoError(t, err)

		result, err := svc.Redeem("welcome-a", "user-1", "")
		require.NoError(t, err)

		assert.True(t, result.Code.Used)
		require.NotNil(t, result.Code.UsedBy)
		assert.Equal(t, "user-1", *result.Code.UsedBy)

		require.NotNil(t, result.Mailbox)
		assert.Len(t, result.Mailbox.LocalPart, 16)
		require.NotNil(t, result.Mailbox.OwnerID)
		assert.Equal(t, "user-1", *result.Mailbox.OwnerID)
		// 发放的邮箱不随常规生存时间过期
		assert.Equal(t, 9999, result.Mailbox.ExpiresAt.Year())
	})

	t.Run("B类使用自定前缀", func(t *testing.T) {
		_, svc := newRedemptionFixture(t)
		_, err := svc.CreateCode("CUSTOM-B", domain.KindCustomMailbox, nil)
		require.NoError(t, err)

		result, err := svc.Redeem("CUSTOM-B", "user-2", "my.name_01")
		require.NoError(t, err)
		assert.Equal(t, "my.name_01", result.Mailbox.LocalPart)
	})

	t.Run("B类前缀校验在占用之前", func(t *testing.T) {
		store, svc := newRedemptionFixture(t)
		_, err := svc.CreateCode("STRICT-B", domain.KindCustomMailbox, nil)
		require.NoError(t, err)

		for _, prefix := range []string{"", "ab", "way-too-long-prefix-over-thirty-chars", "空格 前缀"} {
			_, err := svc.Redeem("STRICT-B", "user-3", prefix)
			assert.ErrorIs(t, err, ErrPrefixInvalid, "前缀 %q 应当被拒绝", prefix)
		}

		// 校验失败不占用兑换码
		record, err := store.GetRedemptionCode("STRICT-B")
		require.NoError(t, err)
		assert.False(t, record.Used)
	})

	t.Run("已使用的兑换码", func(t *testing.T) {
		_, svc := newRedemptionFixture(t)
		_, err := svc.CreateCode("ONCE", domain.KindAutoMailbox, nil)
		require.NoError(t, err)

		_, err = svc.Redeem("ONCE", "user-1", "")
		require.NoError(t, err)

		_, err = svc.Redeem("ONCE", "user-2", "")
		assert.ErrorIs(t, err, storage.ErrCodeUsed)
	})

	t.Run("不存在的兑换码", func(t *testing.T) {
		_, svc := newRedemptionFixture(t)
		_, err := svc.Redeem("GHOST", "user-1", "")
		assert.ErrorIs(t, err, storage.ErrCodeNotFound)

		_, err = svc.Redeem("   ", "user-1", "")
		assert.ErrorIs(t, err, storage.ErrCodeNotFound)
	})

	t.Run("各类结果分别计入指标", func(t *testing.T) {
		_, svc := newRedemptionFixture(t)
		metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())
		svc.SetMetrics(metrics)

		_, err := svc.CreateCode("METERED", domain.KindAutoMailbox, nil)
		require.NoError(t, err)
		_, err = svc.CreateCode("METERED-B", domain.KindCustomMailbox, nil)
		require.NoError(t, err)

		_, err = svc.Redeem("METERED", "user-1", "")
		require.NoError(t, err)
		_, err = svc.Redeem("METERED", "user-2", "")
		require.ErrorIs(t, err, storage.ErrCodeUsed)
		_, err = svc.Redeem("GHOST", "user-3", "")
		require.ErrorIs(t, err, storage.ErrCodeNotFound)
		_, err = svc.Redeem("METERED-B", "user-4", "ab")
		require.ErrorIs(t, err, ErrPrefixInvalid)

		outcome := func(name string) float64 {
			return testutil.ToFloat64(metrics.RedemptionOutcomes.WithLabelValues(name))
		}
		assert.Equal(t, 1.0, outcome(RedeemOutcomeSuccess))
		assert.Equal(t, 1.0, outcome(RedeemOutcomeAlreadyUsed))
		assert.Equal(t, 1.0, outcome(RedeemOutcomeNotFound))
		assert.Equal(t, 1.0, outcome(RedeemOutcomePrefixInvalid))
	})

	t.Run("发放失败返回部分成功", func(t *testing.T) {
		store, svc := newRedemptionFixture(t)
		_, err := svc.CreateCode("PARTIAL-B", domain.KindCustomMailbox, nil)
		require.NoError(t, err)

		// 预先占住目标地址，让发放阶段撞唯一索引
		mailboxes := NewMailboxService(store, testConfig())
		_, err = mailboxes.Create(CreateMailboxInput{Prefix: "occupied"})
		require.NoError(t, err)

		_, err = svc.Redeem("PARTIAL-B", "user-9", "occupied")
		assert.ErrorIs(t, err, ErrRedemptionPartial)

		// 占用不回滚
		record, err := store.GetRedemptionCode("PARTIAL-B")
		require.NoError(t, err)
		assert.True(t, record.Used)
		require.NotNil(t, record.UsedBy)
		assert.Equal(t, "user-9", *record.UsedBy)
	})
}

func TestRedemptionService_ConcurrentRedeem(t *testing.T) {
	store, svc := newRedemptionFixture(t)
	_, err := svc.CreateCode("RACE", domain.KindAutoMailbox, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	winners := make(chan string, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", n)
			if _, err := svc.Redeem("RACE", userID, ""); err == nil {
				winners <- userID
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	var winner []string
	for w := range winners {
		winner = append(winner, w)
	}
	require.Len(t, winner, 1)

	record, err := store.GetRedemptionCode("RACE")
	require.NoError(t, err)
	require.NotNil(t, record.UsedBy)
	assert.Equal(t, winner[0], *record.UsedBy)
	require.NotNil(t, record.UsedAt)
	assert.WithinDuration(t, time.Now().UTC(), *record.UsedAt, time.Minute)
}
