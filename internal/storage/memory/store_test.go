package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

func newTestMailbox(t *testing.T, s *Store, address string) *domain.Mailbox {
	t.Helper()
	mb := &domain.Mailbox{
		ID:        uuid.NewString(),
		Address:   address,
		LocalPart: "test",
		Domain:    "tempmail.local",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	require.NoError(t, s.SaveMailbox(mb))
	return mb
}

func newTestMessage(mailboxID string, receivedAt time.Time) *domain.Message {
	return &domain.Message{
		ID:          uuid.NewString(),
		MailboxID:   mailboxID,
		Direction:   domain.DirectionReceived,
		FromAddress: "sender@example.com",
		Subject:     "测试邮件",
		TextBody:    "hello",
		CreatedAt:   receivedAt,
		ReceivedAt:  receivedAt,
	}
}

func TestMailboxRepository(t *testing.T) {
	s := NewStore(100)

	t.Run("保存并按ID和地址读取", func(t *testing.T) {
		mb := newTestMailbox(t, s, "abc@tempmail.local")

		got, err := s.GetMailbox(mb.ID)
		require.NoError(t, err)
		assert.Equal(t, mb.Address, got.Address)

		got, err = s.GetMailboxByAddress("abc@tempmail.local")
		require.NoError(t, err)
		assert.Equal(t, mb.ID, got.ID)
	})

	t.Run("地址冲突", func(t *testing.T) {
		newTestMailbox(t, s, "dup@tempmail.local")
		err := s.SaveMailbox(&domain.Mailbox{
			ID:      uuid.NewString(),
			Address: "dup@tempmail.local",
		})
		assert.ErrorIs(t, err, storage.ErrAddressTaken)
	})

	t.Run("不存在的邮箱", func(t *testing.T) {
		_, err := s.GetMailbox("no-such-id")
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

		err = s.DeleteMailbox("no-such-id")
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("按属主统计", func(t *testing.T) {
		owner := "user-1"
		for i := 0; i < 3; i++ {
			mb := newTestMailbox(t, s, fmt.Sprintf("owned-%d@tempmail.local", i))
			mb.OwnerID = &owner
			require.NoError(t, s.SaveMailbox(mb))
		}

		count, err := s.CountMailboxesByOwner(owner)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		list, err := s.ListMailboxesByOwner(owner)
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})
}

func TestDeleteMailboxCascade(t *testing.T) {
	s := NewStore(100)
	victim := newTestMailbox(t, s, "victim@tempmail.local")
	bystander := newTestMailbox(t, s, "bystander@tempmail.local")

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMessage(newTestMessage(victim.ID, now.Add(time.Duration(i)*time.Second))))
		require.NoError(t, s.SaveMessage(newTestMessage(bystander.ID, now.Add(time.Duration(i)*time.Second))))
	}

	require.NoError(t, s.DeleteMailbox(victim.ID))

	// 被删邮箱及其邮件全部消失
	_, err := s.GetMailbox(victim.ID)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	_, err = s.PageMessages(victim.ID, nil, domain.ScopeAll, 20)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

	// 旁观者邮箱不受影响
	page, err := s.PageMessages(bystander.ID, nil, domain.ScopeAll, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)

	// 删除后的写入被拒绝，不会出现无主邮件
	err = s.SaveMessage(newTestMessage(victim.ID, now))
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

	// 地址立即可复用
	reborn := newTestMailbox(t, s, "victim@tempmail.local")
	page, err = s.PageMessages(reborn.ID, nil, domain.ScopeAll, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestPageMessages(t *testing.T) {
	s := NewStore(100)
	mb := newTestMailbox(t, s, "page@tempmail.local")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 45
	for i := 0; i < total; i++ {
		require.NoError(t, s.SaveMessage(newTestMessage(mb.ID, base.Add(time.Duration(i)*time.Minute))))
	}

	t.Run("首页按接收时间降序", func(t *testing.T) {
		page, err := s.PageMessages(mb.ID, nil, domain.ScopeAll, 20)
		require.NoError(t, err)
		assert.Len(t, page.Messages, 20)
		assert.True(t, page.HasMore)
		assert.Equal(t, total, page.Total)
		for i := 1; i < len(page.Messages); i++ {
			assert.False(t, page.Messages[i].ReceivedAt.After(page.Messages[i-1].ReceivedAt))
		}
	})

	t.Run("翻页完整且无重复", func(t *testing.T) {
		seen := make(map[string]bool)
		var after *domain.PageKey
		for {
			page, err := s.PageMessages(mb.ID, after, domain.ScopeAll, 20)
			require.NoError(t, err)
			for _, msg := range page.Messages {
				assert.False(t, seen[msg.ID], "邮件 %s 重复出现", msg.ID)
				seen[msg.ID] = true
			}
			if !page.HasMore {
				break
			}
			last := page.Messages[len(page.Messages)-1]
			after = &domain.PageKey{ReceivedAt: last.ReceivedAt, ID: last.ID}
		}
		assert.Len(t, seen, total)
	})

	t.Run("翻页期间新增邮件不扰动后续页", func(t *testing.T) {
		s2 := NewStore(100)
		mb2 := newTestMailbox(t, s2, "stable@tempmail.local")
		for i := 0; i < 30; i++ {
			require.NoError(t, s2.SaveMessage(newTestMessage(mb2.ID, base.Add(time.Duration(i)*time.Minute))))
		}

		page1, err := s2.PageMessages(mb2.ID, nil, domain.ScopeAll, 20)
		require.NoError(t, err)
		require.Len(t, page1.Messages, 20)

		// 取第一页之后插入更新的邮件
		require.NoError(t, s2.SaveMessage(newTestMessage(mb2.ID, base.Add(time.Hour))))

		last := page1.Messages[len(page1.Messages)-1]
		page2, err := s2.PageMessages(mb2.ID, &domain.PageKey{ReceivedAt: last.ReceivedAt, ID: last.ID}, domain.ScopeAll, 20)
		require.NoError(t, err)
		assert.Len(t, page2.Messages, 10)
		for _, msg := range page2.Messages {
			assert.True(t, msg.ReceivedAt.Before(last.ReceivedAt))
		}
	})

	t.Run("同一时间戳按ID决胜", func(t *testing.T) {
		s3 := NewStore(100)
		mb3 := newTestMailbox(t, s3, "ties@tempmail.local")
		ts := base.Add(48 * time.Hour)
		for i := 0; i < 7; i++ {
			require.NoError(t, s3.SaveMessage(newTestMessage(mb3.ID, ts)))
		}

		seen := make(map[string]bool)
		var after *domain.PageKey
		for {
			page, err := s3.PageMessages(mb3.ID, after, domain.ScopeAll, 3)
			require.NoError(t, err)
			for _, msg := range page.Messages {
				assert.False(t, seen[msg.ID])
				seen[msg.ID] = true
			}
			if !page.HasMore {
				break
			}
			last := page.Messages[len(page.Messages)-1]
			after = &domain.PageKey{ReceivedAt: last.ReceivedAt, ID: last.ID}
		}
		assert.Len(t, seen, 7)
	})

	t.Run("方向过滤", func(t *testing.T) {
		s4 := NewStore(100)
		mb4 := newTestMailbox(t, s4, "scope@tempmail.local")
		for i := 0; i < 4; i++ {
			require.NoError(t, s4.SaveMessage(newTestMessage(mb4.ID, base.Add(time.Duration(i)*time.Second))))
		}
		sent := newTestMessage(mb4.ID, base.Add(time.Hour))
		sent.Direction = domain.DirectionSent
		to := "peer@example.com"
		sent.ToAddress = &to
		require.NoError(t, s4.SaveMessage(sent))

		page, err := s4.PageMessages(mb4.ID, nil, domain.ScopeSent, 20)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, domain.DirectionSent, page.Messages[0].Direction)

		page, err = s4.PageMessages(mb4.ID, nil, domain.ScopeReceived, 20)
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
	})
}

func TestDeleteMessages(t *testing.T) {
	s := NewStore(100)
	mb := newTestMailbox(t, s, "del@tempmail.local")
	other := newTestMailbox(t, s, "other@tempmail.local")

	now := time.Now().UTC()
	var ownIDs []string
	for i := 0; i < 3; i++ {
		msg := newTestMessage(mb.ID, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.SaveMessage(msg))
		ownIDs = append(ownIDs, msg.ID)
	}
	foreign := newTestMessage(other.ID, now)
	require.NoError(t, s.SaveMessage(foreign))

	t.Run("批量删除跳过无效和越权ID", func(t *testing.T) {
		ids := []string{ownIDs[0], "no-such-id", foreign.ID, ownIDs[1]}
		deleted, err := s.DeleteMessagesByIDs(mb.ID, ids)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{ownIDs[0], ownIDs[1]}, deleted)

		// 其他邮箱的邮件仍在
		_, err = s.GetMessage(other.ID, foreign.ID)
		assert.NoError(t, err)
	})

	t.Run("单封删除幂等", func(t *testing.T) {
		ok, err := s.DeleteMessage(mb.ID, ownIDs[2])
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.DeleteMessage(mb.ID, ownIDs[2])
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("按范围清空返回被删ID", func(t *testing.T) {
		saved := make([]string, 0, 5)
		for i := 0; i < 5; i++ {
			msg := newTestMessage(mb.ID, now)
			require.NoError(t, s.SaveMessage(msg))
			saved = append(saved, msg.ID)
		}
		deleted, err := s.DeleteMessagesByScope(mb.ID, domain.ScopeAll)
		require.NoError(t, err)
		assert.ElementsMatch(t, saved, deleted)

		page, err := s.PageMessages(mb.ID, nil, domain.ScopeAll, 20)
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
	})
}

func TestDeleteMessagesOlderThan(t *testing.T) {
	s := NewStore(100)
	mb := newTestMailbox(t, s, "retention@tempmail.local")

	now := time.Now().UTC()
	cutoff := now.Add(-7 * 24 * time.Hour)

	old := newTestMessage(mb.ID, now.Add(-8*24*time.Hour))
	starred := newTestMessage(mb.ID, now.Add(-30*24*time.Hour))
	starred.Starred = true
	fresh := newTestMessage(mb.ID, now.Add(-24*time.Hour))
	require.NoError(t, s.SaveMessage(old))
	require.NoError(t, s.SaveMessage(starred))
	require.NoError(t, s.SaveMessage(fresh))

	t.Run("只删过期未星标邮件", func(t *testing.T) {
		count, err := s.DeleteMessagesOlderThan(cutoff, true, 100)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		_, err = s.GetMessage(mb.ID, old.ID)
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
		_, err = s.GetMessage(mb.ID, starred.ID)
		assert.NoError(t, err)
		_, err = s.GetMessage(mb.ID, fresh.ID)
		assert.NoError(t, err)
	})

	t.Run("批量上限从最旧删起", func(t *testing.T) {
		s2 := NewStore(100)
		mb2 := newTestMailbox(t, s2, "batch@tempmail.local")
		for i := 0; i < 10; i++ {
			require.NoError(t, s2.SaveMessage(newTestMessage(mb2.ID, now.Add(-time.Duration(8+i)*24*time.Hour))))
		}

		count, err := s2.DeleteMessagesOlderThan(cutoff, true, 4)
		require.NoError(t, err)
		assert.Equal(t, 4, count)

		count, err = s2.DeleteMessagesOlderThan(cutoff, true, 100)
		require.NoError(t, err)
		assert.Equal(t, 6, count)
	})
}

func TestListExpiredMailboxes(t *testing.T) {
	s := NewStore(100)
	now := time.Now().UTC()

	expired := newTestMailbox(t, s, "expired@tempmail.local")
	expired.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.SaveMailbox(expired))

	alive := newTestMailbox(t, s, "alive@tempmail.local")
	alive.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, s.SaveMailbox(alive))

	list, err := s.ListExpiredMailboxes(now, nil, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, expired.ID, list[0].ID)

	t.Run("游标分批遍历不重复不遗漏", func(t *testing.T) {
		s2 := NewStore(100)
		want := make([]string, 0, 5)
		for i := 0; i < 5; i++ {
			mb := newTestMailbox(t, s2, fmt.Sprintf("gone%d@tempmail.local", i))
			mb.ExpiresAt = now.Add(-time.Duration(i+1) * time.Minute)
			require.NoError(t, s2.SaveMailbox(mb))
			want = append(want, mb.ID)
		}

		var after *domain.ExpiryKey
		got := make([]string, 0, 5)
		for {
			batch, err := s2.ListExpiredMailboxes(now, after, 2)
			require.NoError(t, err)
			if len(batch) == 0 {
				break
			}
			for _, mb := range batch {
				got = append(got, mb.ID)
			}
			key := domain.ExpiryKeyOf(&batch[len(batch)-1])
			after = &key
		}
		assert.ElementsMatch(t, want, got)
	})
}

func TestDailyCounter(t *testing.T) {
	t.Run("读取不落盘", func(t *testing.T) {
		s := NewStore(100)
		c, err := s.GetDailyCounter("2026-08-28")
		require.NoError(t, err)
		assert.Equal(t, 0, c.SentCount)
		assert.Equal(t, 100, c.MaxCount)
	})

	t.Run("惰性创建并自增", func(t *testing.T) {
		s := NewStore(3)
		for i := 1; i <= 3; i++ {
			c, err := s.IncrementDailyCounter("2026-08-28")
			require.NoError(t, err)
			assert.Equal(t, i, c.SentCount)
		}

		_, err := s.IncrementDailyCounter("2026-08-28")
		assert.ErrorIs(t, err, storage.ErrQuotaExceeded)

		// 上限拒绝后计数不变
		c, err := s.GetDailyCounter("2026-08-28")
		require.NoError(t, err)
		assert.Equal(t, 3, c.SentCount)
	})

	t.Run("不同日期独立计数", func(t *testing.T) {
		s := NewStore(1)
		_, err := s.IncrementDailyCounter("2026-08-28")
		require.NoError(t, err)
		_, err = s.IncrementDailyCounter("2026-08-29")
		require.NoError(t, err)
	})

	t.Run("上限为零时直接拒绝", func(t *testing.T) {
		s := NewStore(0)
		_, err := s.IncrementDailyCounter("2026-08-28")
		assert.ErrorIs(t, err, storage.ErrQuotaExceeded)
	})

	t.Run("并发自增不超限", func(t *testing.T) {
		s := NewStore(1)
		var wg sync.WaitGroup
		successes := make(chan struct{}, 50)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.IncrementDailyCounter("2026-08-28"); err == nil {
					successes <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(successes)
		assert.Equal(t, 1, len(successes))

		c, err := s.GetDailyCounter("2026-08-28")
		require.NoError(t, err)
		assert.Equal(t, 1, c.SentCount)
	})
}

func TestRedemptionCode(t *testing.T) {
	newCode := func(t *testing.T, s *Store, code string, kind domain.RedemptionKind) *domain.RedemptionCode {
		t.Helper()
		rc := &domain.RedemptionCode{
			ID:        uuid.NewString(),
			Code:      code,
			Kind:      kind,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.SaveRedemptionCode(rc))
		return rc
	}

	t.Run("归一化后大小写不敏感", func(t *testing.T) {
		s := NewStore(100)
		newCode(t, s, "WELCOME-2026", domain.KindAutoMailbox)

		got, err := s.GetRedemptionCode("  welcome-2026  ")
		require.NoError(t, err)
		assert.Equal(t, "WELCOME-2026", got.Code)
	})

	t.Run("重复保存被拒绝", func(t *testing.T) {
		s := NewStore(100)
		newCode(t, s, "DUP", domain.KindAutoMailbox)
		err := s.SaveRedemptionCode(&domain.RedemptionCode{ID: uuid.NewString(), Code: "dup"})
		assert.ErrorIs(t, err, storage.ErrCodeExists)
	})

	t.Run("占用后记录使用者和时间", func(t *testing.T) {
		s := NewStore(100)
		newCode(t, s, "ONCE", domain.KindCustomMailbox)

		got, err := s.ConsumeRedemptionCode("once", "user-7")
		require.NoError(t, err)
		assert.True(t, got.Used)
		require.NotNil(t, got.UsedBy)
		assert.Equal(t, "user-7", *got.UsedBy)
		assert.NotNil(t, got.UsedAt)

		_, err = s.ConsumeRedemptionCode("ONCE", "user-8")
		assert.ErrorIs(t, err, storage.ErrCodeUsed)
	})

	t.Run("不存在的兑换码", func(t *testing.T) {
		s := NewStore(100)
		_, err := s.ConsumeRedemptionCode("GHOST", "user-1")
		assert.ErrorIs(t, err, storage.ErrCodeNotFound)
	})

	t.Run("并发兑换恰有一个赢家", func(t *testing.T) {
		s := NewStore(100)
		newCode(t, s, "RACE", domain.KindAutoMailbox)

		var wg sync.WaitGroup
		winners := make(chan string, 50)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				userID := fmt.Sprintf("user-%d", n)
				if _, err := s.ConsumeRedemptionCode("RACE", userID); err == nil {
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

		// 赢家的归属被持久记录
		got, err := s.GetRedemptionCode("RACE")
		require.NoError(t, err)
		require.NotNil(t, got.UsedBy)
		assert.Equal(t, winner[0], *got.UsedBy)
	})
}
