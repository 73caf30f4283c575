package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmaxou/Moemail-for-University/internal/config"
	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

var (
	ErrDomainNotAllowed = errors.New("domain not allowed")
	ErrPrefixInvalid    = errors.New("prefix invalid")
	ErrMailboxLimit     = errors.New("mailbox limit reached")
)

// MailboxService 封装邮箱相关业务操作。
type MailboxService struct {
	repo           storage.MailboxRepository
	cfg            *config.Config
	domainSet      map[string]struct{}
	emailValidator *domain.EmailValidator
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(repo storage.MailboxRepository, cfg *config.Config) *MailboxService {
	domainSet := make(map[string]struct{}, len(cfg.Mailbox.AllowedDomains))
	for _, d := range cfg.Mailbox.AllowedDomains {
		domainSet[d] = struct{}{}
	}

	return &MailboxService{
		repo:           repo,
		cfg:            cfg,
		domainSet:      domainSet,
		emailValidator: domain.NewEmailValidator(),
	}
}

// CreateMailboxInput 定义创建邮箱所需的输入。
type CreateMailboxInput struct {
	Prefix    string
	Domain    string
	OwnerID   *string    // 可选：关联的用户ID
	ExpiresAt *time.Time // 为空时使用默认生存时间

	// IgnoreOwnerLimit 跳过单用户邮箱数量上限，兑换码发放的邮箱使用。
	IgnoreOwnerLimit bool
}

// Create 创建新的临时邮箱。
//
// 地址唯一性由存储层的唯一索引裁决，并发创建同名邮箱时
// 恰有一个成功，其余收到 ErrAddressTaken。
func (s *MailboxService) Create(input CreateMailboxInput) (*domain.Mailbox, error) {
	selectedDomain := s.pickDomain(input.Domain)
	if selectedDomain == "" {
		return nil, ErrDomainNotAllowed
	}

	localPart, err := s.resolveLocalPart(input.Prefix)
	if err != nil {
		return nil, err
	}

	address := fmt.Sprintf("%s@%s", localPart, selectedDomain)

	// 验证完整的邮箱地址
	if err := s.emailValidator.ValidateEmail(address); err != nil {
		return nil, ErrPrefixInvalid
	}

	if input.OwnerID != nil && !input.IgnoreOwnerLimit {
		count, err := s.repo.CountMailboxesByOwner(*input.OwnerID)
		if err != nil {
			return nil, err
		}
		if count >= s.cfg.Mailbox.MaxPerOwner {
			return nil, ErrMailboxLimit
		}
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.Mailbox.DefaultTTL)
	if input.ExpiresAt != nil {
		expiresAt = input.ExpiresAt.UTC()
	}

	mailbox := &domain.Mailbox{
		ID:        uuid.NewString(),
		Address:   address,
		LocalPart: localPart,
		Domain:    selectedDomain,
		OwnerID:   input.OwnerID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	if err := s.repo.SaveMailbox(mailbox); err != nil {
		return nil, err
	}

	return mailbox, nil
}

// Get 根据 ID 获取邮箱。
func (s *MailboxService) Get(id string) (*domain.Mailbox, error) {
	return s.repo.GetMailbox(id)
}

// GetByAddress 根据邮箱地址获取邮箱。
func (s *MailboxService) GetByAddress(address string) (*domain.Mailbox, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, storage.ErrMailboxNotFound
	}
	return s.repo.GetMailboxByAddress(address)
}

// ListByOwner 返回指定用户的全部邮箱。
func (s *MailboxService) ListByOwner(ownerID string) ([]domain.Mailbox, error) {
	return s.repo.ListMailboxesByOwner(ownerID)
}

// Delete 删除指定邮箱及其全部邮件。
func (s *MailboxService) Delete(id string) error {
	return s.repo.DeleteMailbox(id)
}

// DomainManaged 判断域名是否由本系统管理。
func (s *MailboxService) DomainManaged(name string) bool {
	_, ok := s.domainSet[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// pickDomain 挑选合法的邮箱域名。
func (s *MailboxService) pickDomain(requested string) string {
	if requested == "" {
		return s.cfg.Mailbox.AllowedDomains[0]
	}
	requested = strings.ToLower(strings.TrimSpace(requested))
	if _, ok := s.domainSet[requested]; ok {
		return requested
	}
	return ""
}

// resolveLocalPart 生成或验证邮箱前缀。
func (s *MailboxService) resolveLocalPart(prefix string) (string, error) {
	if prefix == "" {
		return randomLocalPart(12), nil
	}
	prefix = strings.ToLower(prefix)
	if err := s.emailValidator.ValidateLocalPart(prefix); err != nil {
		return "", ErrPrefixInvalid
	}
	return prefix, nil
}

// randomLocalPart 生成指定长度的随机前缀。
func randomLocalPart(length int) string {
	base := strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if length > len(base) {
		length = len(base)
	}
	return base[:length]
}
