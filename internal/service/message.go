package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mmaxou/Moemail-for-University/internal/cursor"
	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

// 分页大小限制
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// MessageService 封装邮件处理逻辑。
type MessageService struct {
	repo  storage.MessageRepository
	quota *QuotaService
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(repo storage.MessageRepository, quota *QuotaService) *MessageService {
	return &MessageService{repo: repo, quota: quota}
}

// AppendMessageInput 定义写入邮件的输入。
type AppendMessageInput struct {
	MailboxID string
	Direction domain.Direction
	From      string
	To        *string
	Subject   string
	Text      string
	HTML      string
	Received  time.Time // 零值时使用当前时间
}

// Append 向邮箱写入一封邮件。
//
// ReceivedAt 截断到毫秒精度，与分页游标的时间戳精度一致。
func (s *MessageService) Append(input AppendMessageInput) (*domain.Message, error) {
	now := time.Now().UTC()
	received := input.Received
	if received.IsZero() {
		received = now
	}

	message := &domain.Message{
		ID:          uuid.NewString(),
		MailboxID:   input.MailboxID,
		Direction:   input.Direction,
		FromAddress: input.From,
		ToAddress:   input.To,
		Subject:     input.Subject,
		TextBody:    input.Text,
		HTMLBody:    input.HTML,
		CreatedAt:   now,
		ReceivedAt:  received.UTC().Truncate(time.Millisecond),
	}

	if err := s.repo.SaveMessage(message); err != nil {
		return nil, err
	}
	return message, nil
}

// Compose 记录一封由邮箱发出的邮件，先消耗当日配额再落盘。
//
// 配额消耗与邮件写入不在同一事务中：配额已扣但写入失败时
// 不回滚计数，宁可少发不可超发。
func (s *MessageService) Compose(ctx context.Context, mailboxID, to, subject, text, html string) (*domain.Message, error) {
	if _, err := s.quota.TryIncrement(ctx, time.Now()); err != nil {
		return nil, err
	}

	toAddr := domain.NormalizeAddress(to)
	return s.Append(AppendMessageInput{
		MailboxID: mailboxID,
		Direction: domain.DirectionSent,
		From:      "",
		To:        &toAddr,
		Subject:   subject,
		Text:      text,
		HTML:      html,
	})
}

// Page 按游标列出邮箱内的邮件。
//
// cursorToken 为空表示首页；limit 超出范围时被收敛到 [1, MaxPageSize]。
func (s *MessageService) Page(mailboxID, cursorToken, scopeParam string, limit int) (*domain.MessagePage, error) {
	scope, err := domain.ParseScope(scopeParam)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var after *domain.PageKey
	if cursorToken != "" {
		millis, id, err := cursor.Decode(cursorToken)
		if err != nil {
			return nil, err
		}
		after = &domain.PageKey{
			ReceivedAt: time.UnixMilli(millis).UTC(),
			ID:         id,
		}
	}

	page, err := s.repo.PageMessages(mailboxID, after, scope, limit)
	if err != nil {
		return nil, err
	}

	if page.HasMore && len(page.Messages) > 0 {
		last := page.Messages[len(page.Messages)-1]
		page.NextCursor = cursor.Encode(last.ReceivedAt.UnixMilli(), last.ID)
	}
	return page, nil
}

// Get 获取单封邮件详情。
func (s *MessageService) Get(mailboxID, messageID string) (*domain.Message, error) {
	return s.repo.GetMessage(mailboxID, messageID)
}

// SetStarred 设置邮件的星标状态，星标邮件不会被保留期清理。
func (s *MessageService) SetStarred(mailboxID, messageID string, starred bool) error {
	return s.repo.SetMessageStarred(mailboxID, messageID, starred)
}

// Delete 删除指定邮件，返回是否实际删除。
func (s *MessageService) Delete(mailboxID, messageID string) (bool, error) {
	return s.repo.DeleteMessage(mailboxID, messageID)
}

// DeleteByIDs 批量删除邮箱内的邮件，返回实际删除的 ID。
func (s *MessageService) DeleteByIDs(mailboxID string, ids []string) ([]string, error) {
	return s.repo.DeleteMessagesByIDs(mailboxID, ids)
}

// DeleteByScope 清空邮箱内指定范围的邮件，返回实际删除的 ID。
func (s *MessageService) DeleteByScope(mailboxID, scopeParam string) ([]string, error) {
	scope, err := domain.ParseScope(scopeParam)
	if err != nil {
		return nil, err
	}
	return s.repo.DeleteMessagesByScope(mailboxID, scope)
}
