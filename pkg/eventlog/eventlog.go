// Package eventlog records one row per completed gate interaction.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/database"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event is one logged interaction. Date and Time are kept as text columns in the
// same layout the event viewer reads. The table has no declared primary key so
// an events table written by older tooling migrates in place: SQLite can add
// the uid and created_at columns but not a primary key, and rows keep their
// implicit rowid order.
type Event struct {
	UID        string `gorm:"column:uid;size:36;uniqueIndex"`
	Date       string `gorm:"index"`
	Time       string
	Picture    []byte
	Name       string
	Surname    string
	ActionCode int
	CreatedAt  time.Time
}

// TableName keeps the table name used by the event viewer.
func (Event) TableName() string { return "events" }

// Log is the append-only event log.
type Log struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens the event database, creating the table when needed.
func Open(path string) (*Log, error) {
	db, err := database.Open(path, &Event{})
	if err != nil {
		return nil, err
	}
	return &Log{db: db, now: time.Now}, nil
}

// Close closes the event database.
func (l *Log) Close() error {
	return database.Close(l.db)
}

// Append stores one interaction stamped with the current local date and time.
func (l *Log) Append(ctx context.Context, picture []byte, name, surname string, actionCode int) (*Event, error) {
	now := l.now()
	e := &Event{
		UID:        uuid.NewString(),
		Date:       now.Format("2006-01-02"),
		Time:       now.Format("15:04:05"),
		Picture:    picture,
		Name:       name,
		Surname:    surname,
		ActionCode: actionCode,
		CreatedAt:  now,
	}

	if err := l.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	logging.Component("eventlog").WithFields(logging.Fields{
		"uid":    e.UID,
		"name":   name,
		"code":   actionCode,
		"pic_kb": len(picture) / 1024,
	}).Info("Event logged")
	return e, nil
}

// Recent returns the newest events first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	var events []Event
	err := l.db.WithContext(ctx).
		Omit("picture").
		Order("rowid DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
