package smtp

import (
	"io"
	"mime"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/service"
)

// 单封邮件的最大字节数，超出部分直接截断。
const maxMessageBytes = 10 << 20 // 10MB

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只收不发的 SMTP 入口，不做邮件中继：
// RCPT 阶段只验证收件域名是否由本系统托管，托管域名下的
// 任意地址一律接受。具体邮箱是否存在、是否过期，留到投递
// 阶段静默处理，避免对端通过 RCPT 响应枚举有效邮箱。
type Backend struct {
	mailboxes *service.MailboxService
	ingest    *service.IngestService
	limiter   *ConnectionLimiter
	log       *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(mailboxes *service.MailboxService, ingest *service.IngestService, log *zap.Logger) *Backend {
	return &Backend{
		mailboxes: mailboxes,
		ingest:    ingest,
		log:       log,
	}
}

// SetConnectionLimiter 注入连接限流器。
func (b *Backend) SetConnectionLimiter(limiter *ConnectionLimiter) {
	b.limiter = limiter
}

// NewSession 创建新的 SMTP 会话。
// 连接数或新建速率超限时以 421 临时拒绝，对端稍后重试。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	acquired := false
	if b.limiter != nil {
		if !b.limiter.Acquire() {
			return nil, &gosmtp.SMTPError{
				Code:         421,
				EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
				Message:      "too many connections, try again later",
			}
		}
		acquired = true
	}
	return &session{backend: b, holdsConn: acquired}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
	holdsConn   bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只拒绝两类收件人：地址格式非法（501），以及域名不在
// 托管列表中（550，防止被当作开放中继）。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if !s.backend.mailboxes.DomainManaged(parts[1]) {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
//
// 读取完成后的任何失败都不再回报：解析失败整封丢弃，
// 按收件人发生的投递失败由投递层记录指标后丢弃。
// 对端始终拿到 250，拿不到可用于枚举或重投的信号。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, maxMessageBytes))
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(rawBytes)
	if err != nil {
		s.backend.ingest.DropUnparsed(s.fromAddress, len(s.recipients), err)
		return nil
	}

	delivered := s.backend.ingest.Ingest(service.IngestInput{
		From:       s.fromAddress,
		Recipients: s.recipients,
		Subject:    parsed.Subject,
		Text:       parsed.Text,
		HTML:       parsed.HTML,
		Date:       parsed.Date,
	})

	s.backend.log.Debug("入站邮件处理完成",
		zap.String("from", s.fromAddress),
		zap.Int("recipients", len(s.recipients)),
		zap.Int("delivered", delivered),
	)
	return nil
}

// AuthPlain 处理 PLAIN 认证（此处允许匿名）。
func (s *session) AuthPlain(username, password string) error {
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.holdsConn {
		s.backend.limiter.Release()
		s.holdsConn = false
	}
	return nil
}

func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
