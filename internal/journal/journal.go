// Package journal records every frame the cluster sends or receives into a
// SQLite database. Frames are queued by a bus decorator and written in
// batches by a background flusher, so the cluster's tick never waits on the
// database.
package journal

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/notnil/dashsim/canbus"
	"github.com/notnil/dashsim/internal/queue"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Direction of a journaled frame.
type Direction string

const (
	TX Direction = "tx"
	RX Direction = "rx"
)

// Entry is one journaled frame.
type Entry struct {
	ID       uint      `gorm:"primarykey"`
	Session  string    `gorm:"size:36;index"`
	Time     time.Time `gorm:"index"`
	Dir      Direction `gorm:"size:2"`
	FrameID  uint32    `gorm:"index"`
	Extended bool
	Len      uint8
	Data     string `gorm:"size:16"` // hex
}

func (Entry) TableName() string { return "frames" }

// Frame rebuilds the CAN frame.
func (e Entry) Frame() (canbus.Frame, error) {
	f := canbus.Frame{ID: e.FrameID, Extended: e.Extended, Len: e.Len}
	b, err := hex.DecodeString(e.Data)
	if err != nil {
		return canbus.Frame{}, fmt.Errorf("decoding entry %d: %w", e.ID, err)
	}
	copy(f.Data[:], b)
	return f, f.Validate()
}

func (e Entry) String() string {
	f, err := e.Frame()
	if err != nil {
		return fmt.Sprintf("%s %s <%v>", e.Time.Format(time.RFC3339Nano), e.Dir, err)
	}
	return fmt.Sprintf("%s %s %s", e.Time.Format(time.RFC3339Nano), e.Dir, f)
}

// Config holds journal settings.
type Config struct {
	Path          string // ":memory:" for an in-memory database
	Session       string // generated when empty
	FlushInterval time.Duration
	BatchSize     int
	QueueLimit    int // pending entries kept before the oldest are dropped
}

// Journal is the frame store.
type Journal struct {
	db      *gorm.DB
	pending *queue.Queue[Entry]
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// Open connects to the database and migrates the schema.
func Open(cfg Config, log *slog.Logger) (*Journal, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal: empty path")
	}
	if cfg.Session == "" {
		cfg.Session = uuid.NewString()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 100_000
	}
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        cfg.BatchSize,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("accessing sql interface: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" is per connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA journal_mode = WAL;").Error; err != nil {
		log.Debug("journal pragma ignored", "error", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	log.Info("journal opened", "path", cfg.Path, "session", cfg.Session)
	return &Journal{
		db:      db,
		pending: queue.New[Entry](cfg.QueueLimit),
		cfg:     cfg,
		logger:  log,
		now:     time.Now,
	}, nil
}

// Session returns the id stamped on this process's rows.
func (j *Journal) Session() string { return j.cfg.Session }

// Record queues a frame. It never blocks on the database.
func (j *Journal) Record(dir Direction, f canbus.Frame) {
	if n := j.pending.Push(Entry{
		Session:  j.cfg.Session,
		Time:     j.now().UTC(),
		Dir:      dir,
		FrameID:  f.ID,
		Extended: f.Extended,
		Len:      f.Len,
		Data:     hex.EncodeToString(f.Payload()),
	}); n > 0 {
		j.logger.Warn("journal queue full, dropped oldest", "count", n)
	}
}

// Pending returns the number of queued entries.
func (j *Journal) Pending() int { return j.pending.Len() }

// Flush writes everything queued so far and returns the row count.
func (j *Journal) Flush(ctx context.Context) (int, error) {
	entries := j.pending.Take(0)
	if len(entries) == 0 {
		return 0, nil
	}
	if err := j.db.WithContext(ctx).CreateInBatches(entries, j.cfg.BatchSize).Error; err != nil {
		return 0, fmt.Errorf("writing %d journal entries: %w", len(entries), err)
	}
	return len(entries), nil
}

// Run flushes every FlushInterval until ctx ends, then flushes once more.
func (j *Journal) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_, err := j.Flush(context.Background())
			return err
		case <-ticker.C:
			start := time.Now()
			n, err := j.Flush(ctx)
			if err != nil {
				j.logger.Error("journal flush failed", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Debug("journal flushed", "rows", n, "took", time.Since(start))
			}
		}
	}
}

// Recent returns the newest n rows of any session, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	var out []Entry
	err := j.db.WithContext(ctx).Order("id desc").Limit(n).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return out, nil
}

// Count returns the number of stored rows for a frame id, or all rows when
// id is nil.
func (j *Journal) Count(ctx context.Context, id *uint32) (int64, error) {
	q := j.db.WithContext(ctx).Model(&Entry{})
	if id != nil {
		q = q.Where("frame_id = ?", *id)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting journal: %w", err)
	}
	return n, nil
}

// Close flushes pending entries and closes the database.
func (j *Journal) Close() error {
	_, ferr := j.Flush(context.Background())
	sqlDB, err := j.db.DB()
	if err != nil {
		return errors.Join(ferr, err)
	}
	return errors.Join(ferr, sqlDB.Close())
}
