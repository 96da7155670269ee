// Package journal persists rendered lending events in SQL so they can be
// listed after the fact.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lendpool/core/events"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one persisted event.
type Entry struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	Type       string    `gorm:"index" json:"type"`
	Asset      string    `gorm:"index" json:"asset"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name independent of the struct name.
func (Entry) TableName() string { return "lending_events" }

// Decode returns the attribute map stored with the entry.
func (e Entry) Decode() (map[string]string, error) {
	attrs := map[string]string{}
	if e.Attributes == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("journal: decode attributes: %w", err)
	}
	return attrs, nil
}

// Open connects to dsn. postgres:// and postgresql:// URLs use the Postgres
// driver; anything else is treated as a SQLite DSN.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return db, nil
}

// AutoMigrate performs the schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// Journal records events and serves paged history.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// New wraps a migrated database handle.
func New(db *gorm.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, now: time.Now}
}

// Emit implements events.Emitter. Write failures are logged; the engine has
// already committed the state change the event describes.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Record(context.Background(), evt); err != nil {
		j.logger.Error("journal write failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Record persists evt and returns the stored entry.
func (j *Journal) Record(ctx context.Context, evt events.Event) (*Entry, error) {
	rendered := events.Render(evt)
	if rendered == nil {
		return nil, fmt.Errorf("journal: nil event")
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	entry := &Entry{
		EventID:    uuid.New(),
		Type:       rendered.Type,
		Asset:      rendered.Asset(),
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	return entry, nil
}

// Query filters List. Zero values match everything; AfterSeq pages forward.
type Query struct {
	Asset    string
	Type     string
	AfterSeq uint64
	Limit    int
}

// List returns entries in ascending sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	tx := j.db.WithContext(ctx).Model(&Entry{}).Where("seq > ?", q.AfterSeq)
	if asset := strings.ToUpper(strings.TrimSpace(q.Asset)); asset != "" {
		tx = tx.Where("asset = ?", asset)
	}
	if typ := strings.TrimSpace(q.Type); typ != "" {
		tx = tx.Where("type = ?", typ)
	}
	var entries []Entry
	if err := tx.Order("seq asc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}
