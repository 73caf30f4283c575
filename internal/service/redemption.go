package service

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

// 兑换结果指标的 outcome 取值。
const (
	RedeemOutcomeSuccess       = "success"
	RedeemOutcomeNotFound      = "not_found"
	RedeemOutcomePrefixInvalid = "prefix_invalid"
	RedeemOutcomeAlreadyUsed   = "already_used"
	RedeemOutcomePartial       = "partial"
	RedeemOutcomeError         = "error"
)

var (
	// ErrRedemptionPartial 表示兑换码已被占用但后续发放失败。
	// 占用不回滚，调用方可凭 UsedBy 归属联系人工补发。
	ErrRedemptionPartial = errors.New("redemption code consumed but grant failed")
)

// redeemPrefixRegex B 类兑换时用户自定前缀的合法形式。
var redeemPrefixRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,30}$`)

// 兑换发放的邮箱不随常规生存时间过期。
var redeemedMailboxExpiry = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// RedemptionService 封装兑换码业务逻辑。
type RedemptionService struct {
	repo      storage.RedemptionRepository
	mailboxes *MailboxService
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewRedemptionService 创建兑换码业务服务。
func NewRedemptionService(repo storage.RedemptionRepository, mailboxes *MailboxService, log *zap.Logger) *RedemptionService {
	return &RedemptionService{
		repo:      repo,
		mailboxes: mailboxes,
		log:       log,
	}
}

// SetMetrics 注入兑换结果指标。
func (s *RedemptionService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

func (s *RedemptionService) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRedemption(outcome)
	}
}

// RedeemResult 表示一次成功兑换的结果。
type RedeemResult struct {
	Code    *domain.RedemptionCode
	Mailbox *domain.Mailbox
}

// Redeem 兑换一个一次性兑换码。
//
// 输入校验全部在占用之前完成，占用是存储层的条件更新，
// 并发兑换同一码时恰有一个调用方成功。占用成功之后的
// 发放失败不回滚占用，返回 ErrRedemptionPartial。
func (s *RedemptionService) Redeem(code, userID, prefix string) (*RedeemResult, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		s.recordOutcome(RedeemOutcomeNotFound)
		return nil, storage.ErrCodeNotFound
	}

	record, err := s.repo.GetRedemptionCode(normalized)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			s.recordOutcome(RedeemOutcomeNotFound)
		} else {
			s.recordOutcome(RedeemOutcomeError)
		}
		return nil, err
	}

	// B 类需要用户自定前缀，占用前先验证
	if record.Kind == domain.KindCustomMailbox {
		if !redeemPrefixRegex.MatchString(prefix) {
			s.recordOutcome(RedeemOutcomePrefixInvalid)
			return nil, ErrPrefixInvalid
		}
	}

	consumed, err := s.repo.ConsumeRedemptionCode(normalized, userID)
	if err != nil {
		if errors.Is(err, storage.ErrCodeUsed) {
			s.recordOutcome(RedeemOutcomeAlreadyUsed)
		} else {
			s.recordOutcome(RedeemOutcomeError)
		}
		return nil, err
	}

	mailbox, err := s.grantMailbox(consumed, userID, prefix)
	if err != nil {
		s.log.Error("兑换码已占用但发放失败",
			zap.String("code", consumed.Code),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		s.recordOutcome(RedeemOutcomePartial)
		return nil, fmt.Errorf("%w: %v", ErrRedemptionPartial, err)
	}

	s.recordOutcome(RedeemOutcomeSuccess)
	return &RedeemResult{Code: consumed, Mailbox: mailbox}, nil
}

// CreateCode 生成一个新的兑换码记录。
func (s *RedemptionService) CreateCode(code string, kind domain.RedemptionKind, createdBy *string) (*domain.RedemptionCode, error) {
	record := &domain.RedemptionCode{
		ID:        uuid.NewString(),
		Code:      domain.NormalizeCode(code),
		Kind:      kind,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveRedemptionCode(record); err != nil {
		return nil, err
	}
	return record, nil
}

// grantMailbox 按兑换码类型发放邮箱。
func (s *RedemptionService) grantMailbox(code *domain.RedemptionCode, userID, prefix string) (*domain.Mailbox, error) {
	expiry := redeemedMailboxExpiry

	input := CreateMailboxInput{
		OwnerID:          &userID,
		ExpiresAt:        &expiry,
		IgnoreOwnerLimit: true,
	}

	switch code.Kind {
	case domain.KindCustomMailbox:
		input.Prefix = prefix
	default:
		input.Prefix = randomLocalPart(16)
	}

	return s.mailboxes.Create(input)
}
