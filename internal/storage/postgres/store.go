package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"whisper/backend/internal/config"
	"whisper/backend/internal/domain"
	"whisper/backend/internal/storage"
	"whisper/backend/internal/storage/migrations"
)

// Store 基于 GORM 的关系型存储，支持 PostgreSQL 和 MySQL
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	client *Client
	log    *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open 按配置连接数据库，需要时执行迁移，返回存储实例
func Open(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("store")

	var (
		dialector gorm.Dialector
		sqlDB     *sql.DB
		client    *Client
	)

	switch cfg.Type {
	case "postgres":
		var err error
		client, err = NewClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		sqlDB = client.DB()
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	case "mysql":
		var err error
		sqlDB, err = openMySQL(cfg)
		if err != nil {
			return nil, err
		}
		dialector = mysql.New(mysql.Config{Conn: sqlDB})
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	closeAll := func() {
		if client != nil {
			client.Close()
		} else {
			_ = sqlDB.Close()
		}
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, sqlDB, cfg.Type); err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info("database migrations applied", zap.String("type", cfg.Type))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db, sqlDB: sqlDB, client: client, log: log}, nil
}

// openMySQL 强制开启 parseTime 并使用 UTC，避免时间列被扫描成字节串
func openMySQL(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := mysqldriver.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	connector, err := mysqldriver.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// ========== User Repository ==========

// EnsureUser 按邮箱获取用户，不存在时插入；唯一约束冲突时忽略并重新读取
func (s *Store) EnsureUser(ctx context.Context, email string) (*domain.User, error) {
	user := &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(user).Error
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByEmail(ctx, email)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ========== OTP Repository ==========

// SaveOTP 保存验证码记录
func (s *Store) SaveOTP(ctx context.Context, code *domain.OneTimeCode) error {
	return s.db.WithContext(ctx).Create(code).Error
}

// ConsumeOTP 先定位最新的候选记录，再用带 used = false 条件的更新完成兑换。
// 更新影响行数为 0 说明被并发请求抢先，按未找到处理
func (s *Store) ConsumeOTP(ctx context.Context, email, codeHash string, now time.Time) (*domain.OneTimeCode, error) {
	db := s.db.WithContext(ctx)

	var code domain.OneTimeCode
	err := db.Where("email = ? AND code_hash = ? AND used = ? AND expires_at > ?", email, codeHash, false, now).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, err
	}

	res := db.Model(&domain.OneTimeCode{}).
		Where("id = ? AND used = ? AND expires_at > ?", code.ID, false, now).
		Update("used", true)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, storage.ErrCodeNotFound
	}

	code.Used = true
	return &code, nil
}

// ========== Message Repository ==========

// EnsureRoom 按名称获取房间，不存在时创建
func (s *Store) EnsureRoom(ctx context.Context, name string) (*domain.Room, error) {
	room := &domain.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(room).Error
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	var existing domain.Room
	if err := db.Where("name = ?", name).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// SaveMessage 保存消息，插入序号由数据库分配
func (s *Store) SaveMessage(ctx context.Context, message *domain.Message) error {
	return s.db.WithContext(ctx).Create(message).Error
}

// GetMessage 根据 ID 获取消息及作者邮箱
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.MessageView, error) {
	var views []domain.MessageView
	err := s.viewQuery(ctx).Where("m.id = ?", id).Limit(1).Scan(&views).Error
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, storage.ErrMessageNotFound
	}
	return &views[0], nil
}

// ListMessages 按创建时间和插入序号升序返回房间内的消息
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]domain.MessageView, error) {
	views := make([]domain.MessageView, 0)
	err := s.viewQuery(ctx).
		Where("m.room_id = ?", roomID).
		Order("m.created_at ASC").
		Order("m.seq ASC").
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	return views, nil
}

// DeleteMessage 删除消息
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

func (s *Store) viewQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("messages AS m").
		Select("m.id, m.kind, m.body AS text, m.image_url, m.created_at, u.email AS user_email").
		Joins("JOIN users u ON u.id = m.user_id")
}

// ========== 生命周期 ==========

// Ping 测试数据库连接
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.client != nil {
		s.client.Close()
		return nil
	}
	return s.sqlDB.Close()
}
