package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sigwatch/internal/store"
	storemodel "sigwatch/internal/store/model"
)

// openSignalKeyIndex keeps at most one non-completed signal per key. Partial
// indexes are supported by both SQLite and PostgreSQL.
const openSignalKeyIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_open_key
ON signals (symbol, category, direction) WHERE completed = false`

// GormStore implements store.Store using Gorm over SQLite or PostgreSQL.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
}

// Open selects the driver by name ("sqlite" or "postgres").
func Open(driver, path, dsn string) (*GormStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("gorm store: unsupported driver %q", driver)
	}
}

// NewSQLiteStore opens (and migrates) a file-backed SQLite database.
func NewSQLiteStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: a second connection serves admin reads during a poll cycle.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return NewFromDB(db)
}

// NewMemoryStore opens a private in-memory SQLite database, used by tests and dry runs.
func NewMemoryStore(name string) (*GormStore, error) {
	if strings.TrimSpace(name) == "" {
		name = "sigwatch"
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1&_txlock=immediate", name)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// Shared-cache memory databases report table locks instead of waiting, so
		// every caller queues on a single connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return NewFromDB(db)
}

// NewPostgresStore opens a PostgreSQL database through pgx.
func NewPostgresStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("gorm store: postgres dsn cannot be empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

// NewFromDB migrates the schema on an existing connection.
func NewFromDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(storemodel.All()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := db.Exec(openSignalKeyIndex).Error; err != nil {
		return nil, fmt.Errorf("create open signal index: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{tx: tx}, nil
}

func (s *GormStore) Signals() store.SignalRepository { return &signalRepo{db: s.db} }
func (s *GormStore) Updates() store.UpdateRepository { return &updateRepo{db: s.db} }
func (s *GormStore) Users() store.UserRepository { return &userRepo{db: s.db} }
func (s *GormStore) Deliveries() store.DeliveryRepository { return &deliveryRepo{db: s.db} }

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping is used by the health endpoint.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) Signals() store.SignalRepository { return &signalRepo{db: u.tx} }
func (u *gormUnitOfWork) Updates() store.UpdateRepository { return &updateRepo{db: u.tx} }
func (u *gormUnitOfWork) Users() store.UserRepository { return &userRepo{db: u.tx} }
func (u *gormUnitOfWork) Deliveries() store.DeliveryRepository { return &deliveryRepo{db: u.tx} }

func (u *gormUnitOfWork) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	err := u.tx.Rollback().Error
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return nil
	}
	return err
}
