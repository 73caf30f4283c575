package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
)

// 入站邮件被丢弃的原因，用于指标标签。
const (
	DropReasonParseError     = "parse_error"
	DropReasonUnknownMailbox = "unknown_mailbox"
	DropReasonExpiredMailbox = "expired_mailbox"
	DropReasonStoreError     = "store_error"
)

// IngestService 把已解析的入站邮件投递到各收件人邮箱。
//
// 投递永不向上游报错：SMTP 会话在 RCPT 阶段只验证域名，
// 对端收到 250 之后的任何失败都在这里按收件人静默丢弃，
// 不给探测者留下可区分存在与不存在邮箱的信号。
type IngestService struct {
	mailboxes *MailboxService
	messages  *MessageService
	log       *zap.Logger
	metrics   *monitoring.Metrics
}

// NewIngestService 创建入站投递服务。
func NewIngestService(mailboxes *MailboxService, messages *MessageService, log *zap.Logger, metrics *monitoring.Metrics) *IngestService {
	return &IngestService{
		mailboxes: mailboxes,
		messages:  messages,
		log:       log,
		metrics:   metrics,
	}
}

// IngestInput 定义一封已解析入站邮件的投递输入。
type IngestInput struct {
	From       string
	Recipients []string
	Subject    string
	Text       string
	HTML       string
	Date       time.Time // 邮件头的 Date，零值或不可信时用接收时刻
}

// Ingest 把邮件投递给每个收件人，返回成功投递的数量。
func (s *IngestService) Ingest(input IngestInput) int {
	received := s.resolveReceivedAt(input.Date)
	delivered := 0

	for _, rcpt := range input.Recipients {
		address := domain.NormalizeAddress(rcpt)

		mailbox, err := s.mailboxes.GetByAddress(address)
		if err != nil {
			s.drop(address, DropReasonUnknownMailbox, err)
			continue
		}

		if mailbox.Expired(time.Now().UTC()) {
			s.drop(address, DropReasonExpiredMailbox, nil)
			continue
		}

		_, err = s.messages.Append(AppendMessageInput{
			MailboxID: mailbox.ID,
			Direction: domain.DirectionReceived,
			From:      domain.NormalizeAddress(input.From),
			Subject:   input.Subject,
			Text:      input.Text,
			HTML:      input.HTML,
			Received:  received,
		})
		if err != nil {
			s.drop(address, DropReasonStoreError, err)
			continue
		}

		delivered++
		s.metrics.MessagesIngested.Inc()
	}

	return delivered
}

// resolveReceivedAt 采信邮件头的 Date 作为接收时间。
// 头缺失或明显不可信（未来时刻、过旧）时退回当前时间。
func (s *IngestService) resolveReceivedAt(headerDate time.Time) time.Time {
	now := time.Now().UTC()
	if headerDate.IsZero() {
		return now
	}
	headerDate = headerDate.UTC()
	if headerDate.After(now.Add(5*time.Minute)) || headerDate.Before(now.Add(-30*24*time.Hour)) {
		return now
	}
	return headerDate
}

// DropUnparsed 记录一封无法解析的入站邮件。
// 解析失败与投递失败同样不回报给对端，发送方不会因此反复重投。
func (s *IngestService) DropUnparsed(from string, recipients int, err error) {
	s.metrics.RecordMessageDropped(DropReasonParseError)
	s.log.Warn("入站邮件解析失败，整封丢弃",
		zap.String("from", from),
		zap.Int("recipients", recipients),
		zap.Error(err),
	)
}

func (s *IngestService) drop(address, reason string, err error) {
	s.metrics.RecordMessageDropped(reason)
	s.log.Debug("入站邮件被丢弃",
		zap.String("recipient", address),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
