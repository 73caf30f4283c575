package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/config"
	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

// ErrReaperBusy 表示一轮清理尚未结束，本次触发被跳过。
var ErrReaperBusy = errors.New("cleanup already running")

// ReaperLock 多副本部署下的清理互斥锁接口，Redis 可用时注入。
type ReaperLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ReapReport 记录一轮清理的结果。
type ReapReport struct {
	ExpiredMailboxes int  `json:"expiredMailboxes"` // 处置的过期邮箱数
	PrunedMessages   int  `json:"prunedMessages"`   // 清理的过期邮件数
	Skipped          bool `json:"skipped"`          // 因其他副本持锁而跳过
}

// ReaperService 周期性清理过期邮箱与超出保留期的邮件。
//
// 单飞语义分两层：进程内用原子标志挡住定时器与手动触发的重入，
// 跨副本用可选的分布式锁，两层任一生效都会让本轮直接跳过。
type ReaperService struct {
	store   storage.Store
	cfg     config.RetentionConfig
	log     *zap.Logger
	metrics *monitoring.Metrics
	lock    ReaperLock
	running atomic.Bool
}

// NewReaperService 创建清理任务服务。
func NewReaperService(store storage.Store, cfg config.RetentionConfig, log *zap.Logger, metrics *monitoring.Metrics) *ReaperService {
	return &ReaperService{
		store:   store,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
}

// SetLock 注入跨副本互斥锁。
func (s *ReaperService) SetLock(lock ReaperLock) {
	s.lock = lock
}

// Running 报告当前是否有清理在进行中。
func (s *ReaperService) Running() bool {
	return s.running.Load()
}

// RunOnce 执行一轮完整清理。
//
// 进行中的清理未结束时返回 ErrReaperBusy；
// 分布式锁被其他副本持有时返回 Skipped=true 的报告，不算错误。
func (s *ReaperService) RunOnce(ctx context.Context) (*ReapReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.RecordReaperRun("busy")
		return nil, ErrReaperBusy
	}
	defer s.running.Store(false)

	if s.lock != nil {
		acquired, err := s.lock.TryAcquire(ctx)
		if err != nil {
			s.metrics.RecordReaperRun("error")
			return nil, err
		}
		if !acquired {
			s.log.Debug("其他副本正在清理，本轮跳过")
			s.metrics.RecordReaperRun("skipped")
			return &ReapReport{Skipped: true}, nil
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				s.log.Warn("释放清理锁失败", zap.Error(err))
			}
		}()
	}

	started := time.Now()
	report := &ReapReport{}

	if err := s.reapExpiredMailboxes(ctx, report); err != nil {
		s.metrics.RecordReaperRun("error")
		return report, err
	}

	if err := s.pruneOldMessages(ctx, report); err != nil {
		s.metrics.RecordReaperRun("error")
		return report, err
	}

	s.metrics.RecordReaperRun("ok")
	s.log.Info("清理完成",
		zap.Int("expired_mailboxes", report.ExpiredMailboxes),
		zap.Int("pruned_messages", report.PrunedMessages),
		zap.Duration("elapsed", time.Since(started)),
	)
	return report, nil
}

// reapExpiredMailboxes 处置过期邮箱。
//
// delete-mailboxes 策略逐批删除直到没有过期邮箱；
// purge-messages 策略只清空邮件并保留邮箱行，按 (expires_at, id)
// 游标逐批遍历，保留的邮箱行不会在下一批里反复出现。
//
// 单个邮箱处置失败只记录并跳过，不中断整轮清理；
// 本批出现失败时不再取下一批，失败的行留给下一轮重试。
func (s *ReaperService) reapExpiredMailboxes(ctx context.Context, report *ReapReport) error {
	now := time.Now().UTC()

	if s.cfg.ExpiredPolicy == config.ExpiredPolicyPurgeMessages {
		var after *domain.ExpiryKey
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			expired, err := s.store.ListExpiredMailboxes(now, after, s.cfg.BatchSize)
			if err != nil {
				return err
			}
			if len(expired) == 0 {
				return nil
			}

			failed := 0
			for i := range expired {
				mb := &expired[i]
				deleted, err := s.store.DeleteMessagesByScope(mb.ID, domain.ScopeAll)
				if err != nil {
					if errors.Is(err, storage.ErrMailboxNotFound) {
						continue
					}
					failed++
					s.metrics.RecordError("mailbox_reap", "reaper")
					s.log.Warn("清空过期邮箱失败，跳过",
						zap.String("mailbox_id", mb.ID),
						zap.Error(err),
					)
					continue
				}
				report.ExpiredMailboxes++
				report.PrunedMessages += len(deleted)
				s.metrics.MailboxesReaped.Inc()
			}

			if failed > 0 || len(expired) < s.cfg.BatchSize {
				return nil
			}
			key := domain.ExpiryKeyOf(&expired[len(expired)-1])
			after = &key
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		expired, err := s.store.ListExpiredMailboxes(now, nil, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		failed := 0
		for i := range expired {
			mb := &expired[i]
			if err := s.store.DeleteMailbox(mb.ID); err != nil {
				if errors.Is(err, storage.ErrMailboxNotFound) {
					continue
				}
				failed++
				s.metrics.RecordError("mailbox_reap", "reaper")
				s.log.Warn("删除过期邮箱失败，跳过",
					zap.String("mailbox_id", mb.ID),
					zap.Error(err),
				)
				continue
			}
			report.ExpiredMailboxes++
			s.metrics.MailboxesReaped.Inc()
		}

		if failed > 0 || len(expired) < s.cfg.BatchSize {
			return nil
		}
	}
}

// pruneOldMessages 逐批删除超出保留窗口的未星标邮件。
func (s *ReaperService) pruneOldMessages(ctx context.Context, report *ReapReport) error {
	cutoff := time.Now().UTC().Add(-s.cfg.Window)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		count, err := s.store.DeleteMessagesOlderThan(cutoff, true, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		report.PrunedMessages += count
		s.metrics.MessagesPruned.Add(float64(count))

		if count < s.cfg.BatchSize {
			return nil
		}
	}
}
