package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

// Store 使用内存保存邮箱与邮件数据，主要用于开发验证与测试。
//
// 所有条件更新（配额自增、兑换码占用）都在写锁内完成，
// 与数据库实现的单语句原子性对齐。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox
	byAddress map[string]string
	messages  map[string]map[string]*domain.Message // mailboxID -> messageID -> message
	counters  map[string]*domain.DailyCounter       // date -> counter
	codes     map[string]*domain.RedemptionCode     // 归一化兑换码 -> code

	defaultDailyMax int
}

// NewStore 创建一个内存存储实例。
func NewStore(defaultDailyMax int) *Store {
	return &Store{
		mailboxes:       make(map[string]*domain.Mailbox),
		byAddress:       make(map[string]string),
		messages:        make(map[string]map[string]*domain.Message),
		counters:        make(map[string]*domain.DailyCounter),
		codes:           make(map[string]*domain.RedemptionCode),
		defaultDailyMax: defaultDailyMax,
	}
}

// ========== 邮箱 ==========

// SaveMailbox 保存邮箱信息，地址冲突时返回 ErrAddressTaken。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byAddress[mailbox.Address]; ok && existingID != mailbox.ID {
		return storage.ErrAddressTaken
	}

	stored := *mailbox
	s.mailboxes[mailbox.ID] = &stored
	s.byAddress[mailbox.Address] = mailbox.ID
	return nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[id]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	copied := *mailbox
	return &copied, nil
}

// GetMailboxByAddress 根据完整地址获取邮箱。
func (s *Store) GetMailboxByAddress(address string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	copied := *s.mailboxes[id]
	return &copied, nil
}

// ListMailboxesByOwner 返回指定用户的全部邮箱，按创建时间降序。
func (s *Store) ListMailboxesByOwner(ownerID string) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0)
	for _, mb := range s.mailboxes {
		if mb.OwnerID != nil && *mb.OwnerID == ownerID {
			result = append(result, *mb)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// CountMailboxesByOwner 统计指定用户的邮箱数量。
func (s *Store) CountMailboxesByOwner(ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, mb := range s.mailboxes {
		if mb.OwnerID != nil && *mb.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// DeleteMailbox 删除指定邮箱及其全部邮件。
func (s *Store) DeleteMailbox(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[id]; !ok {
		return storage.ErrMailboxNotFound
	}
	s.deleteMailboxLocked(id)
	return nil
}

// ListExpiredMailboxes 按 (expires_at, id) 升序返回过期时间早于 before 的邮箱，
// after 非空时只返回游标之后的行，最多 limit 个。
func (s *Store) ListExpiredMailboxes(before time.Time, after *domain.ExpiryKey, limit int) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expired := make([]domain.Mailbox, 0)
	for _, mb := range s.mailboxes {
		if mb.ExpiresAt.After(before) {
			continue
		}
		if after != nil {
			if mb.ExpiresAt.Before(after.ExpiresAt) {
				continue
			}
			if mb.ExpiresAt.Equal(after.ExpiresAt) && mb.ID <= after.ID {
				continue
			}
		}
		expired = append(expired, *mb)
	}
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].ExpiresAt.Equal(expired[j].ExpiresAt) {
			return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
		}
		return expired[i].ID < expired[j].ID
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *Store) deleteMailboxLocked(id string) {
	if mb, ok := s.mailboxes[id]; ok {
		delete(s.byAddress, mb.Address)
	}
	delete(s.mailboxes, id)
	delete(s.messages, id)
}

// ========== 邮件 ==========

// SaveMessage 保存邮件信息，邮箱不存在时返回 ErrMailboxNotFound。
func (s *Store) SaveMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[message.MailboxID]; !ok {
		return storage.ErrMailboxNotFound
	}

	if _, ok := s.messages[message.MailboxID]; !ok {
		s.messages[message.MailboxID] = make(map[string]*domain.Message)
	}
	stored := *message
	s.messages[message.MailboxID][message.ID] = &stored
	return nil
}

// GetMessage 获取单封邮件。
func (s *Store) GetMessage(mailboxID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[mailboxID][messageID]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

// PageMessages 按 (received_at, id) 降序键集分页。
func (s *Store) PageMessages(mailboxID string, after *domain.PageKey, scope domain.Scope, limit int) (*domain.MessagePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.mailboxes[mailboxID]; !ok {
		return nil, storage.ErrMailboxNotFound
	}

	matched := make([]domain.Message, 0)
	for _, msg := range s.messages[mailboxID] {
		if !scopeMatches(msg, scope) {
			continue
		}
		matched = append(matched, *msg)
	}
	total := len(matched)

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ReceivedAt.Equal(matched[j].ReceivedAt) {
			return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	// 游标严格限定结果在 (ReceivedAt, ID) 之前
	if after != nil {
		filtered := matched[:0]
		for _, msg := range matched {
			if msg.ReceivedAt.Before(after.ReceivedAt) ||
				(msg.ReceivedAt.Equal(after.ReceivedAt) && msg.ID < after.ID) {
				filtered = append(filtered, msg)
			}
		}
		matched = filtered
	}

	page := &domain.MessagePage{Total: total}
	if len(matched) > limit {
		page.Messages = matched[:limit]
		page.HasMore = true
	} else {
		page.Messages = matched
	}
	return page, nil
}

// SetMessageStarred 设置邮件的星标状态。
func (s *Store) SetMessageStarred(mailboxID, messageID string, starred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[mailboxID][messageID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	msg.Starred = starred
	return nil
}

// DeleteMessage 删除指定邮件，返回是否实际删除。
func (s *Store) DeleteMessage(mailboxID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[mailboxID][messageID]; !ok {
		return false, nil
	}
	delete(s.messages[mailboxID], messageID)
	return true, nil
}

// DeleteMessagesByIDs 删除指定邮箱内的一批邮件，返回实际删除的 ID。
// 不存在或属于其他邮箱的 ID 被静默跳过。
func (s *Store) DeleteMessagesByIDs(mailboxID string, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := make([]string, 0, len(ids))
	msgMap := s.messages[mailboxID]
	for _, id := range ids {
		if _, ok := msgMap[id]; ok {
			delete(msgMap, id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// DeleteMessagesByScope 删除邮箱内指定范围的全部邮件，返回实际删除的 ID。
func (s *Store) DeleteMessagesByScope(mailboxID string, scope domain.Scope) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[mailboxID]; !ok {
		return nil, storage.ErrMailboxNotFound
	}

	deleted := make([]string, 0)
	for id, msg := range s.messages[mailboxID] {
		if scopeMatches(msg, scope) {
			delete(s.messages[mailboxID], id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// DeleteMessagesOlderThan 删除接收时间早于 cutoff 的邮件，最多 limit 封。
// 从最旧的邮件开始删，excludeStarred 为 true 时跳过星标邮件。
func (s *Store) DeleteMessagesOlderThan(cutoff time.Time, excludeStarred bool, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		mailboxID  string
		messageID  string
		receivedAt time.Time
	}
	candidates := make([]candidate, 0)
	for mailboxID, msgMap := range s.messages {
		for id, msg := range msgMap {
			if excludeStarred && msg.Starred {
				continue
			}
			if msg.ReceivedAt.Before(cutoff) {
				candidates = append(candidates, candidate{mailboxID, id, msg.ReceivedAt})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].receivedAt.Before(candidates[j].receivedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, c := range candidates {
		delete(s.messages[c.mailboxID], c.messageID)
	}
	return len(candidates), nil
}

func scopeMatches(msg *domain.Message, scope domain.Scope) bool {
	switch scope {
	case domain.ScopeReceived:
		return msg.Direction == domain.DirectionReceived
	case domain.ScopeSent:
		return msg.Direction == domain.DirectionSent
	default:
		return true
	}
}

// ========== 每日配额 ==========

// GetDailyCounter 获取指定日期的配额计数。
// 计数行不存在时返回零计数的默认视图，不落盘。
func (s *Store) GetDailyCounter(date string) (*domain.DailyCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.counters[date]; ok {
		copied := *c
		return &copied, nil
	}
	return &domain.DailyCounter{
		Date:      date,
		SentCount: 0,
		MaxCount:  s.defaultDailyMax,
	}, nil
}

// IncrementDailyCounter 原子自增指定日期的计数。
func (s *Store) IncrementDailyCounter(date string) (*domain.DailyCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[date]
	if !ok {
		if s.defaultDailyMax < 1 {
			return nil, storage.ErrQuotaExceeded
		}
		now := time.Now().UTC()
		c = &domain.DailyCounter{
			ID:        date,
			Date:      date,
			SentCount: 1,
			MaxCount:  s.defaultDailyMax,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.counters[date] = c
		copied := *c
		return &copied, nil
	}

	if c.SentCount >= c.MaxCount {
		return nil, storage.ErrQuotaExceeded
	}
	c.SentCount++
	c.UpdatedAt = time.Now().UTC()
	copied := *c
	return &copied, nil
}

// ========== 兑换码 ==========

// SaveRedemptionCode 保存兑换码，重复时返回 ErrCodeExists。
func (s *Store) SaveRedemptionCode(code *domain.RedemptionCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NormalizeCode(code.Code)
	if _, ok := s.codes[key]; ok {
		return storage.ErrCodeExists
	}
	stored := *code
	stored.Code = key
	s.codes[key] = &stored
	return nil
}

// GetRedemptionCode 根据归一化兑换码获取记录。
func (s *Store) GetRedemptionCode(code string) (*domain.RedemptionCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[domain.NormalizeCode(code)]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	copied := *c
	return &copied, nil
}

// ConsumeRedemptionCode 以条件更新方式占用兑换码。
// 并发争用下恰有一个调用成功，其余返回 ErrCodeUsed。
func (s *Store) ConsumeRedemptionCode(code, userID string) (*domain.RedemptionCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[domain.NormalizeCode(code)]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	if c.Used {
		return nil, storage.ErrCodeUsed
	}

	now := time.Now().UTC()
	c.Used = true
	c.UsedBy = &userID
	c.UsedAt = &now
	copied := *c
	return &copied, nil
}

// ========== 工具方法 ==========

// Close 关闭存储连接。
func (s *Store) Close() error {
	return nil
}

// Health 健康检查。
func (s *Store) Health() error {
	return nil
}
