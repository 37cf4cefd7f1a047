package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/toolport/config"
)

// Record is one persisted invocation.
type Record struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Server     string    `gorm:"size:128;index:idx_journal_server_time,priority:1" json:"server"`
	Tool       string    `gorm:"size:256" json:"tool"`
	Arguments  string    `gorm:"type:text" json:"arguments,omitempty"`
	Outcome    string    `gorm:"size:64" json:"outcome"`
	ToolError  bool      `json:"tool_error"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index:idx_journal_server_time,priority:2" json:"created_at"`
}

// TableName 固定表名
func (Record) TableName() string { return "toolport_invocations" }

// Entry is what the runtime reports after each invocation.
type Entry struct {
	Server    string
	Tool      string
	Arguments map[string]any
	Outcome   string
	ToolError bool
	Err       error
	Duration  time.Duration
	StartedAt time.Time
}

// Recorder persists invocation entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Options 日志选项
type Options struct {
	// 是否保存调用参数（可能含敏感数据，默认关闭）
	RecordArguments bool
	// 连接池上限，0 使用驱动默认值
	MaxOpenConns int
}

// Journal 基于 GORM 的调用日志
type Journal struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	options Options
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open connects to the database named by cfg and migrates the schema.
func Open(cfg config.JournalConfig, logger *zap.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	opts := Options{RecordArguments: cfg.RecordArguments}
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
		// sqlite 单写者；内存库每个连接各自独立
		opts.MaxOpenConns = 1
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	j, err := New(db, opts, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return j, nil
}

// New wraps an open GORM handle and migrates the schema.
func New(db *gorm.DB, opts Options, logger *zap.Logger) (*Journal, error) {
	j, err := wrap(db, opts, logger)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	j.logger.Debug("journal initialized", zap.String("dialect", db.Dialector.Name()))
	return j, nil
}

// wrap 包装已打开的连接，不做迁移
func wrap(db *gorm.DB, opts Options, logger *zap.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	return &Journal{
		db:      db,
		sqlDB:   sqlDB,
		options: opts,
		logger:  logger.With(zap.String("component", "journal")),
		now:     time.Now,
	}, nil
}

// Record implements Recorder.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return fmt.Errorf("journal is closed")
	}

	rec := Record{
		ID:         uuid.NewString(),
		Server:     e.Server,
		Tool:       e.Tool,
		Outcome:    e.Outcome,
		ToolError:  e.ToolError,
		DurationMS: e.Duration.Milliseconds(),
		CreatedAt:  e.StartedAt,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = j.now()
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	if j.options.RecordArguments && len(e.Arguments) > 0 {
		data, err := json.Marshal(e.Arguments)
		if err != nil {
			j.logger.Debug("arguments not serializable", zap.Error(err))
		} else {
			rec.Arguments = string(data)
		}
	}

	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("journal insert failed: %w", err)
	}
	return nil
}

// Recent returns the newest records first. An empty server matches all
// servers; limit <= 0 means 20.
func (j *Journal) Recent(ctx context.Context, server string, limit int) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, fmt.Errorf("journal is closed")
	}
	if limit <= 0 {
		limit = 20
	}

	q := j.db.WithContext(ctx).Model(&Record{})
	if server != "" {
		q = q.Where("server = ?", server)
	}
	var out []Record
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal query failed: %w", err)
	}
	return out, nil
}

// Prune deletes records created before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, fmt.Errorf("journal is closed")
	}
	res := j.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("journal prune failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping 检查数据库连接
func (j *Journal) Ping(ctx context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return fmt.Errorf("journal is closed")
	}
	return j.sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接（幂等）
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.sqlDB.Close()
}
