// Package journal keeps an append-only record of navigation decisions and
// session faults per display, in postgres via gorm.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Kind string

const (
	KindNavigated    Kind = "navigated"
	KindFetchFailed  Kind = "fetch_failed"
	KindGhost        Kind = "ghost_suppressed"
	KindInconsistent Kind = "inconsistent"
	KindLogout       Kind = "logout"
	KindAutoLogout   Kind = "auto_logout"
)

type Record struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SurfaceID string    `gorm:"size:64;index;not null" json:"surface_id"`
	Kind      Kind      `gorm:"size:32;index;not null" json:"kind"`
	Target    string    `gorm:"size:32" json:"target,omitempty"`
	Path      string    `gorm:"size:128" json:"path,omitempty"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

func (Record) TableName() string { return "kiosk_journal" }

// Sink accepts records without blocking the caller.
type Sink interface {
	Enqueue(Record)
}

type Store struct {
	db      *gorm.DB
	log     *zap.Logger
	records chan Record
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

const queueSize = 256

// Open connects to postgres, migrates the journal table and starts the
// background writer.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("journal: empty dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return newStore(db, log), nil
}

func newStore(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		db:      db,
		log:     log.Named("journal"),
		records: make(chan Record, queueSize),
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

func (s *Store) writer() {
	defer s.wg.Done()
	for rec := range s.records {
		if err := s.db.Create(&rec).Error; err != nil {
			s.log.Warn("journal write failed", zap.String("kind", string(rec.Kind)), zap.Error(err))
		}
	}
}

// Enqueue drops the record when the writer is behind rather than stalling a
// poll loop.
func (s *Store) Enqueue(rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.records <- rec:
	default:
		s.log.Warn("journal queue full, dropping record", zap.String("kind", string(rec.Kind)))
	}
}

func (s *Store) Recent(ctx context.Context, surfaceID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Record
	q := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit)
	if surfaceID != "" {
		q = q.Where("surface_id = ?", surfaceID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return out, nil
}

// Close drains queued records and closes the connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.records)
	s.mu.Unlock()

	s.wg.Wait()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
