package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// InMemoryDSN opens a throwaway database.
const InMemoryDSN = ":memory:"

// ProcessedKey is one row of the processed set.
type ProcessedKey struct {
	Key         string `gorm:"primaryKey"`
	ProcessedAt time.Time
}

// TableName implements gorm's tabler.
func (ProcessedKey) TableName() string {
	return "processed_keys"
}

// SQLiteStore keeps the processed set in SQLite. Saves only insert keys
// added since the last save.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) state.db under dir.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	dsn := filepath.Join(dir, "state.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return openSQLite(dsn)
}

func openSQLite(dsn string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&ProcessedKey{}); err != nil {
		return nil, fmt.Errorf("state: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (st *SQLiteStore) Load(ctx context.Context, s *State) error {
	var keys []string
	if err := st.db.WithContext(ctx).Model(&ProcessedKey{}).Pluck("key", &keys).Error; err != nil {
		return fmt.Errorf("state: load: %w", err)
	}
	s.restore(keys)
	return nil
}

// Save implements Store.
func (st *SQLiteStore) Save(ctx context.Context, s *State) error {
	if len(s.unsaved) > 0 {
		now := s.now().UTC()
		rows := make([]ProcessedKey, len(s.unsaved))
		for i, k := range s.unsaved {
			rows[i] = ProcessedKey{Key: k, ProcessedAt: now}
		}
		err := st.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(rows, 500).Error
		if err != nil {
			return fmt.Errorf("state: save: %w", err)
		}
	}
	s.saved()
	return nil
}

// Close implements Store.
func (st *SQLiteStore) Close() error {
	sqlDB, err := st.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
