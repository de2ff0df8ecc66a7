package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

// recordRow is the physical table: one JSON blob per record key.
type recordRow struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Data      []byte `gorm:"type:blob"`
	UpdatedAt int64  `gorm:"autoUpdateTime"`
}

func (recordRow) TableName() string { return "records" }

type SQLiteRecords struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database file under dataDir and
// applies the configured PRAGMAs.
func OpenSQLite(dataDir string, cfg config.StorageConfig) (*SQLiteRecords, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir %s: %w", dataDir, err)
	}
	name := cfg.FileName
	if name == "" {
		name = "darkpatent.db"
	}
	dbPath := util.DBPath(dataDir, name)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// A single connection serializes writers, which SQLite needs anyway.
	sqlDB.SetMaxOpenConns(max(cfg.MaxOpenConns, 1))
	sqlDB.SetMaxIdleConns(max(cfg.MaxIdleConns, 1))
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	var pragmas []string
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA journal_mode = %s;", cfg.JournalMode))
	}
	if cfg.Synchronous != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA synchronous = %s;", cfg.Synchronous))
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	if err := db.AutoMigrate(&recordRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate records table: %w", err)
	}

	logger.Info("database initialized", "path", dbPath, "journal_mode", cfg.JournalMode)
	return &SQLiteRecords{db: db}, nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (s *SQLiteRecords) Load(key string, v any) error {
	var row recordRow
	err := s.db.Where("key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(row.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteRecords) Save(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	row := recordRow{Key: key, Data: b}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteRecords) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
