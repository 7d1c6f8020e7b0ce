package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"dexmail/backend/internal/domain"
	"dexmail/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	// 验证驱动类型
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	switch driverName {
	case "mysql":
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	case "postgres":
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	// 自动执行数据库迁移
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 创建/更新数据表结构。
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.StatusRecord{},
		&domain.Draft{},
		&domain.CIDMapping{},
		&domain.ClaimRecord{},
	)
}

// ========== Status Repository ==========

// GetStatusMap 返回指定地址的全部状态记录。
func (s *Store) GetStatusMap(address string) (map[string]domain.EmailStatus, error) {
	var records []domain.StatusRecord
	if err := s.gormDB.Where("address = ?", address).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list status records: %w", err)
	}

	out := make(map[string]domain.EmailStatus, len(records))
	for _, r := range records {
		out[r.MessageID] = r.Status
	}
	return out, nil
}

// GetStatus 返回单条状态记录，不存在时返回缺省状态。
func (s *Store) GetStatus(address, messageID string) (domain.EmailStatus, error) {
	var record domain.StatusRecord
	err := s.gormDB.Where("address = ? AND message_id = ?", address, messageID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DefaultEmailStatus(), nil
	}
	if err != nil {
		return domain.EmailStatus{}, fmt.Errorf("failed to get status record: %w", err)
	}
	return record.Status, nil
}

// UpsertStatus 在事务内做读-改-写合并，按复合键更新。
func (s *Store) UpsertStatus(address, messageID string, patch domain.StatusPatch) (domain.EmailStatus, error) {
	var merged domain.EmailStatus

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		var record domain.StatusRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("address = ? AND message_id = ?", address, messageID).
			First(&record).Error

		current := domain.DefaultEmailStatus()
		if err == nil {
			current = record.Status
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		merged = patch.Apply(current)
		record = domain.StatusRecord{
			Address:   address,
			MessageID: messageID,
			Status:    merged,
			UpdatedAt: time.Now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}, {Name: "message_id"}},
			UpdateAll: true,
		}).Create(&record).Error
	})
	if err != nil {
		return domain.EmailStatus{}, fmt.Errorf("failed to upsert status record: %w", err)
	}
	return merged, nil
}

// ========== Draft Repository ==========

// SaveDraft 按（草稿ID, 地址）复合键幂等保存。
func (s *Store) SaveDraft(draft *domain.Draft) error {
	err := s.gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "draft_id"}, {Name: "address"}},
		UpdateAll: true,
	}).Create(draft).Error
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// ListDrafts 返回指定地址的全部草稿，按时间倒序。
func (s *Store) ListDrafts(address string) ([]domain.Draft, error) {
	var drafts []domain.Draft
	err := s.gormDB.Where("address = ?", address).
		Order("timestamp DESC").
		Find(&drafts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// DeleteDraft 删除草稿。
func (s *Store) DeleteDraft(draftID, address string) error {
	result := s.gormDB.Where("draft_id = ? AND address = ?", draftID, address).
		Delete(&domain.Draft{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete draft: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrDraftNotFound
	}
	return nil
}

// ========== CID Map Repository ==========

// SaveCIDMapping 保存哈希到完整 CID 的映射，幂等（重复写入覆盖同值）。
func (s *Store) SaveCIDMapping(cidHash, fullCID string) error {
	mapping := domain.CIDMapping{
		CIDHash:   cidHash,
		FullCID:   fullCID,
		CreatedAt: time.Now().UTC(),
	}
	// 映射不可变：已有绑定不被后来者覆盖
	err := s.gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cid_hash"}},
		DoNothing: true,
	}).Create(&mapping).Error
	if err != nil {
		return fmt.Errorf("failed to save cid mapping: %w", err)
	}
	return nil
}

// GetCIDMapping 按哈希取回完整 CID。
func (s *Store) GetCIDMapping(cidHash string) (string, error) {
	var mapping domain.CIDMapping
	err := s.gormDB.Where("cid_hash = ?", cidHash).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", storage.ErrCIDMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cid mapping: %w", err)
	}
	return mapping.FullCID, nil
}

// ========== Claim Repository ==========

// SaveClaim 保存领取记录。
func (s *Store) SaveClaim(record *domain.ClaimRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := s.gormDB.Create(record).Error; err != nil {
		return fmt.Errorf("failed to save claim record: %w", err)
	}
	return nil
}

// GetClaimByCode 按领取码取回记录。
func (s *Store) GetClaimByCode(code string) (*domain.ClaimRecord, error) {
	var record domain.ClaimRecord
	err := s.gormDB.Where("code = ?", code).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrClaimNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim record: %w", err)
	}
	return &record, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	return s.db.Close()
}

// Health 数据库连通性检查。
func (s *Store) Health() error {
	return s.db.Ping()
}
