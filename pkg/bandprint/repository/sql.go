package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
)

const (
	sqlBackend       = "sql"
	defaultBatchSize = 500
)

// fingerprintRow is one (fingerprint, song) membership. The composite
// primary key gives set semantics.
type fingerprintRow struct {
	Fingerprint int64  `gorm:"primaryKey;autoIncrement:false"`
	SongID      string `gorm:"primaryKey;type:varchar(255);index:idx_fingerprint_song"`
}

func (fingerprintRow) TableName() string { return "fingerprints" }

type songRow struct {
	ID        string `gorm:"primaryKey;type:varchar(255)"`
	CreatedAt time.Time
}

func (songRow) TableName() string { return "songs" }

type SQLOptions struct {
	// BatchSize bounds rows per INSERT and keys per IN lookup.
	BatchSize    int
	MaxOpenConns int
}

// SQL stores memberships in a relational table through gorm.
type SQL struct {
	db        *gorm.DB
	batchSize int
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(path string, opts SQLOptions) (*SQL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	// A single connection serializes writers; SQLite would otherwise
	// return SQLITE_BUSY to concurrent transactions.
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 1
	}
	return NewSQL(sqlite.Open(path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), opts)
}

// OpenPostgres connects to a PostgreSQL database by DSN.
func OpenPostgres(dsn string, opts SQLOptions) (*SQL, error) {
	return NewSQL(postgres.Open(dsn), opts)
}

func NewSQL(dialector gorm.Dialector, opts SQLOptions) (*SQL, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, wrapErr("open", sqlBackend, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, wrapErr("open", sqlBackend, err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&fingerprintRow{}, &songRow{}); err != nil {
		return nil, wrapErr("migrate", sqlBackend, err)
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &SQL{db: db, batchSize: batch}, nil
}

func (s *SQL) Store(ctx context.Context, fps []fingerprint.Fingerprint, songID string) error {
	if songID == "" {
		return ErrEmptySongID
	}
	keys := distinct(fps)
	rows := make([]fingerprintRow, len(keys))
	for i, fp := range keys {
		rows[i] = fingerprintRow{Fingerprint: int64(fp), SongID: songID}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Each write starts its own chain; a shared chain would keep the
		// songs table as the statement's model.
		skip := clause.OnConflict{DoNothing: true}
		if err := tx.Clauses(skip).Create(&songRow{ID: songID}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(skip).CreateInBatches(rows, s.batchSize).Error
	})
	return wrapErr("store", sqlBackend, err)
}

func (s *SQL) FindMatches(ctx context.Context, fps []fingerprint.Fingerprint) (Tally, error) {
	keys := distinct(fps)
	sets := make(map[fingerprint.Fingerprint][]string, len(keys))

	db := s.db.WithContext(ctx)
	for start := 0; start < len(keys); start += s.batchSize {
		end := min(start+s.batchSize, len(keys))
		chunk := make([]int64, 0, end-start)
		for _, fp := range keys[start:end] {
			chunk = append(chunk, int64(fp))
		}

		var rows []fingerprintRow
		if err := db.Where("fingerprint IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, wrapErr("find matches", sqlBackend, err)
		}
		for _, r := range rows {
			fp := fingerprint.Fingerprint(r.Fingerprint)
			sets[fp] = append(sets[fp], r.SongID)
		}
	}
	return tallyFrom(fps, sets), nil
}

func (s *SQL) Songs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&songRow{}).Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, wrapErr("songs", sqlBackend, err)
	}
	return ids, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrapErr("close", sqlBackend, err)
	}
	return wrapErr("close", sqlBackend, sqlDB.Close())
}

// Truncate removes every membership and song.
func (s *SQL) Truncate(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&fingerprintRow{}).Error; err != nil {
			return err
		}
		return all.Delete(&songRow{}).Error
	})
	return wrapErr("truncate", sqlBackend, err)
}
