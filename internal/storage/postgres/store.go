package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

// Store 关系数据库存储实现，支持 PostgreSQL 与 MySQL。
//
// 配额自增与兑换码占用都编译为单条条件 UPDATE，
// 正确性由数据库的行级原子性保证，不依赖应用层锁。
type Store struct {
	db              *gorm.DB
	defaultDailyMax int
}

// PoolOptions 连接池参数，零值字段回落到默认值。
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// withDefaults 返回补齐默认值后的连接池参数。
func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 25
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 5 * time.Minute
	}
	return o
}

// NewStore 创建 PostgreSQL 存储实例。
func NewStore(dsn string, defaultDailyMax int, pool PoolOptions) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), defaultDailyMax, pool)
}

// NewMySQLStore 创建 MySQL 存储实例。
func NewMySQLStore(dsn string, defaultDailyMax int, pool PoolOptions) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), defaultDailyMax, pool)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例。
func NewStoreWithDialector(dialector gorm.Dialector, defaultDailyMax int, pool PoolOptions) (*Store, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	pool = pool.withDefaults()
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	store := &Store{db: db, defaultDailyMax: defaultDailyMax}

	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate 自动迁移数据库表结构。
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.Message{},
		&domain.DailyCounter{},
		&domain.RedemptionCode{},
	)
}

// wrapDBErr 将驱动层的连接类故障映射为 ErrStoreUnavailable。
func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return err
}

// ========== 邮箱 ==========

// SaveMailbox 保存邮箱信息，地址冲突时返回 ErrAddressTaken。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	err := s.db.Save(mailbox).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAddressTaken
	}
	return wrapDBErr(err)
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(id string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.Where("id = ?", id).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, wrapDBErr(err)
	}
	return &mailbox, nil
}

// GetMailboxByAddress 根据完整地址获取邮箱。
func (s *Store) GetMailboxByAddress(address string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.Where("address = ?", address).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, wrapDBErr(err)
	}
	return &mailbox, nil
}

// ListMailboxesByOwner 返回指定用户的全部邮箱，按创建时间降序。
func (s *Store) ListMailboxesByOwner(ownerID string) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&mailboxes).Error
	return mailboxes, wrapDBErr(err)
}

// CountMailboxesByOwner 统计指定用户的邮箱数量。
func (s *Store) CountMailboxesByOwner(ownerID string) (int, error) {
	var count int64
	err := s.db.Model(&domain.Mailbox{}).Where("owner_id = ?", ownerID).Count(&count).Error
	return int(count), wrapDBErr(err)
}

// DeleteMailbox 在同一事务内删除邮箱及其全部邮件。
func (s *Store) DeleteMailbox(id string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mailbox_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}

		result := tx.Where("id = ?", id).Delete(&domain.Mailbox{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrMailboxNotFound
		}
		return nil
	})
	return wrapDBErr(err)
}

// ListExpiredMailboxes 按 (expires_at, id) 升序返回过期时间早于 before 的邮箱，
// after 非空时只返回游标之后的行，最多 limit 个。
func (s *Store) ListExpiredMailboxes(before time.Time, after *domain.ExpiryKey, limit int) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	query := s.db.Where("expires_at <= ?", before).
		Order("expires_at ASC").Order("id ASC")
	if after != nil {
		query = query.Where(
			"expires_at > ? OR (expires_at = ? AND id > ?)",
			after.ExpiresAt, after.ExpiresAt, after.ID,
		)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&mailboxes).Error
	return mailboxes, wrapDBErr(err)
}

// ========== 邮件 ==========

// SaveMessage 保存邮件信息，邮箱不存在时返回 ErrMailboxNotFound。
//
// 事务内的存在性检查只用于给出友好的错误，并发窗口里
// 邮箱被删除时由外键约束兜底，违反约束同样映射为未找到。
func (s *Store) SaveMessage(message *domain.Message) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Mailbox{}).Where("id = ?", message.MailboxID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrMailboxNotFound
		}
		return tx.Create(message).Error
	})
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return storage.ErrMailboxNotFound
	}
	return wrapDBErr(err)
}

// GetMessage 获取单封邮件。
func (s *Store) GetMessage(mailboxID, messageID string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.Where("id = ? AND mailbox_id = ?", messageID, mailboxID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, wrapDBErr(err)
	}
	return &message, nil
}

// scopedMessages 构造带邮箱与方向条件的新查询链。
func (s *Store) scopedMessages(mailboxID string, scope domain.Scope) *gorm.DB {
	query := s.db.Model(&domain.Message{}).Where("mailbox_id = ?", mailboxID)
	switch scope {
	case domain.ScopeReceived:
		query = query.Where("direction = ?", domain.DirectionReceived)
	case domain.ScopeSent:
		query = query.Where("direction = ?", domain.DirectionSent)
	}
	return query
}

// PageMessages 按 (received_at, id) 降序键集分页。
//
// 查询走 idx_messages_page 组合索引，多取一行以探测是否还有后续页。
func (s *Store) PageMessages(mailboxID string, after *domain.PageKey, scope domain.Scope, limit int) (*domain.MessagePage, error) {
	var exists int64
	if err := s.db.Model(&domain.Mailbox{}).Where("id = ?", mailboxID).Count(&exists).Error; err != nil {
		return nil, wrapDBErr(err)
	}
	if exists == 0 {
		return nil, storage.ErrMailboxNotFound
	}

	var total int64
	if err := s.scopedMessages(mailboxID, scope).Count(&total).Error; err != nil {
		return nil, wrapDBErr(err)
	}

	query := s.scopedMessages(mailboxID, scope)
	if after != nil {
		query = query.Where(
			"received_at < ? OR (received_at = ? AND id < ?)",
			after.ReceivedAt, after.ReceivedAt, after.ID,
		)
	}

	var messages []domain.Message
	err := query.Order("received_at DESC, id DESC").Limit(limit + 1).Find(&messages).Error
	if err != nil {
		return nil, wrapDBErr(err)
	}

	page := &domain.MessagePage{Total: int(total)}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		page.HasMore = true
	} else {
		page.Messages = messages
	}
	return page, nil
}

// SetMessageStarred 设置邮件的星标状态。
func (s *Store) SetMessageStarred(mailboxID, messageID string, starred bool) error {
	result := s.db.Model(&domain.Message{}).
		Where("id = ? AND mailbox_id = ?", messageID, mailboxID).
		Update("starred", starred)
	if result.Error != nil {
		return wrapDBErr(result.Error)
	}
	if result.RowsAffected == 0 {
		// 状态未变化时 RowsAffected 也可能为零，需要区分邮件是否存在
		var count int64
		if err := s.db.Model(&domain.Message{}).
			Where("id = ? AND mailbox_id = ?", messageID, mailboxID).
			Count(&count).Error; err != nil {
			return wrapDBErr(err)
		}
		if count == 0 {
			return storage.ErrMessageNotFound
		}
	}
	return nil
}

// DeleteMessage 删除指定邮件，返回是否实际删除。
func (s *Store) DeleteMessage(mailboxID, messageID string) (bool, error) {
	result := s.db.Where("id = ? AND mailbox_id = ?", messageID, mailboxID).Delete(&domain.Message{})
	if result.Error != nil {
		return false, wrapDBErr(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteMessagesByIDs 删除指定邮箱内的一批邮件，返回实际删除的 ID。
// 不存在或属于其他邮箱的 ID 被静默跳过。
func (s *Store) DeleteMessagesByIDs(mailboxID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	deleted := make([]string, 0, len(ids))
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Message{}).
			Where("mailbox_id = ? AND id IN ?", mailboxID, ids).
			Pluck("id", &deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		return tx.Where("mailbox_id = ? AND id IN ?", mailboxID, deleted).
			Delete(&domain.Message{}).Error
	})
	return deleted, wrapDBErr(err)
}

// DeleteMessagesByScope 删除邮箱内指定范围的全部邮件，返回实际删除的 ID。
func (s *Store) DeleteMessagesByScope(mailboxID string, scope domain.Scope) ([]string, error) {
	var exists int64
	if err := s.db.Model(&domain.Mailbox{}).Where("id = ?", mailboxID).Count(&exists).Error; err != nil {
		return nil, wrapDBErr(err)
	}
	if exists == 0 {
		return nil, storage.ErrMailboxNotFound
	}

	deleted := make([]string, 0)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&domain.Message{}).Where("mailbox_id = ?", mailboxID)
		switch scope {
		case domain.ScopeReceived:
			query = query.Where("direction = ?", domain.DirectionReceived)
		case domain.ScopeSent:
			query = query.Where("direction = ?", domain.DirectionSent)
		}
		if err := query.Pluck("id", &deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		return tx.Where("mailbox_id = ? AND id IN ?", mailboxID, deleted).
			Delete(&domain.Message{}).Error
	})
	return deleted, wrapDBErr(err)
}

// DeleteMessagesOlderThan 删除接收时间早于 cutoff 的邮件，最多 limit 封。
//
// 先按接收时间升序选出候选 ID 再删除，MySQL 不支持 IN 子查询带 LIMIT，
// 两步写法在两种方言下行为一致。
func (s *Store) DeleteMessagesOlderThan(cutoff time.Time, excludeStarred bool, limit int) (int, error) {
	query := s.db.Model(&domain.Message{}).Where("received_at < ?", cutoff)
	if excludeStarred {
		query = query.Where("starred = ?", false)
	}
	query = query.Order("received_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []string
	if err := query.Pluck("id", &ids).Error; err != nil {
		return 0, wrapDBErr(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.Where("id IN ?", ids).Delete(&domain.Message{})
	if result.Error != nil {
		return 0, wrapDBErr(result.Error)
	}
	return int(result.RowsAffected), nil
}

// ========== 每日配额 ==========

// GetDailyCounter 获取指定日期的配额计数。
// 计数行不存在时返回零计数的默认视图，不落盘。
func (s *Store) GetDailyCounter(date string) (*domain.DailyCounter, error) {
	var counter domain.DailyCounter
	err := s.db.Where("date = ?", date).First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.DailyCounter{
				Date:      date,
				SentCount: 0,
				MaxCount:  s.defaultDailyMax,
			}, nil
		}
		return nil, wrapDBErr(err)
	}
	return &counter, nil
}

// IncrementDailyCounter 原子自增指定日期的计数。
//
// 自增是一条带上限条件的 UPDATE，不经过读取再写回：
// 零行命中说明行不存在或已达上限，先尝试带冲突忽略的插入，
// 插入冲突说明并发方已建行，再重试一次条件更新。
func (s *Store) IncrementDailyCounter(date string) (*domain.DailyCounter, error) {
	increment := func() (int64, error) {
		result := s.db.Model(&domain.DailyCounter{}).
			Where("date = ? AND sent_count < max_count", date).
			UpdateColumn("sent_count", gorm.Expr("sent_count + 1"))
		return result.RowsAffected, wrapDBErr(result.Error)
	}

	affected, err := increment()
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		if s.defaultDailyMax < 1 {
			return nil, storage.ErrQuotaExceeded
		}

		counter := &domain.DailyCounter{
			ID:        uuid.NewString(),
			Date:      date,
			SentCount: 1,
			MaxCount:  s.defaultDailyMax,
		}
		result := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}},
			DoNothing: true,
		}).Create(counter)
		if result.Error != nil {
			return nil, wrapDBErr(result.Error)
		}

		if result.RowsAffected == 0 {
			// 并发方已建行，重试一次条件更新
			affected, err = increment()
			if err != nil {
				return nil, err
			}
			if affected == 0 {
				return nil, storage.ErrQuotaExceeded
			}
		}
	}

	return s.GetDailyCounter(date)
}

// ========== 兑换码 ==========

// SaveRedemptionCode 保存兑换码，重复时返回 ErrCodeExists。
func (s *Store) SaveRedemptionCode(code *domain.RedemptionCode) error {
	code.Code = domain.NormalizeCode(code.Code)
	err := s.db.Create(code).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrCodeExists
	}
	return wrapDBErr(err)
}

// GetRedemptionCode 根据归一化兑换码获取记录。
func (s *Store) GetRedemptionCode(code string) (*domain.RedemptionCode, error) {
	var record domain.RedemptionCode
	err := s.db.Where("code = ?", domain.NormalizeCode(code)).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, wrapDBErr(err)
	}
	return &record, nil
}

// ConsumeRedemptionCode 以条件更新方式占用兑换码。
//
// UPDATE ... WHERE used = false 在并发争用下恰有一行命中，
// 零行命中时回查区分兑换码不存在与已被使用。
func (s *Store) ConsumeRedemptionCode(code, userID string) (*domain.RedemptionCode, error) {
	normalized := domain.NormalizeCode(code)
	now := time.Now().UTC()

	result := s.db.Model(&domain.RedemptionCode{}).
		Where("code = ? AND used = ?", normalized, false).
		Updates(map[string]interface{}{
			"used":    true,
			"used_by": userID,
			"used_at": now,
		})
	if result.Error != nil {
		return nil, wrapDBErr(result.Error)
	}

	if result.RowsAffected == 0 {
		if _, err := s.GetRedemptionCode(normalized); err != nil {
			return nil, err
		}
		return nil, storage.ErrCodeUsed
	}

	return s.GetRedemptionCode(normalized)
}

// ========== 工具方法 ==========

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 健康检查。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}
