package record

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned when a required field is absent.
var ErrInvalidRecord = errors.New("invalid notification record")

// Notification is one captured system notification.
//
// ID is assigned by the producer and is the sole identity for
// insert-or-replace. UniqueID, Key and AppPackageName are required.
// The four display strings are optional; nil is stored as NULL.
type Notification struct {
	ID             int64   `json:"id" yaml:"id"`
	UniqueID       string  `json:"unique_id" yaml:"unique_id"`
	Key            string  `json:"key" yaml:"key"`
	Timestamp      int64   `json:"timestamp" yaml:"timestamp"` // epoch millis
	ShowTimestamp  bool    `json:"show_timestamp" yaml:"show_timestamp"`
	IsGroup        bool    `json:"is_group" yaml:"is_group"`
	Text           *string `json:"text,omitempty" yaml:"text,omitempty"`
	Title          *string `json:"title,omitempty" yaml:"title,omitempty"`
	SubText        *string `json:"sub_text,omitempty" yaml:"sub_text,omitempty"`
	TitleBig       *string `json:"title_big,omitempty" yaml:"title_big,omitempty"`
	AppPackageName string  `json:"app_package" yaml:"app_package"`
}

// Validate checks the non-null contract. Go strings cannot be NULL, so an
// empty required string is treated as absent.
func (n Notification) Validate() error {
	switch {
	case n.UniqueID == "":
		return fmt.Errorf("%w: notification %d: unique id is required", ErrInvalidRecord, n.ID)
	case n.Key == "":
		return fmt.Errorf("%w: notification %d: key is required", ErrInvalidRecord, n.ID)
	case n.AppPackageName == "":
		return fmt.Errorf("%w: notification %d: app package is required", ErrInvalidRecord, n.ID)
	}
	return nil
}

// Args returns the bind values in NotificationsTable column order.
func (n Notification) Args() []any {
	return []any{
		n.ID,
		n.UniqueID,
		n.Key,
		n.Timestamp,
		boolToInt(n.ShowTimestamp),
		boolToInt(n.IsGroup),
		nullable(n.Text),
		nullable(n.Title),
		nullable(n.SubText),
		nullable(n.TitleBig),
		n.AppPackageName,
	}
}

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// Scan reads a Notification from a row selected in NotificationsTable column order.
func Scan(row RowScanner) (Notification, error) {
	var n Notification
	var showTimestamp, isGroup int64
	var text, title, subText, titleBig sql.NullString

	if err := row.Scan(
		&n.ID, &n.UniqueID, &n.Key, &n.Timestamp, &showTimestamp, &isGroup,
		&text, &title, &subText, &titleBig, &n.AppPackageName,
	); err != nil {
		return Notification{}, fmt.Errorf("scan notification: %w", err)
	}

	n.ShowTimestamp = showTimestamp != 0
	n.IsGroup = isGroup != 0
	n.Text = fromNullString(text)
	n.Title = fromNullString(title)
	n.SubText = fromNullString(subText)
	n.TitleBig = fromNullString(titleBig)
	return n, nil
}

// String returns a pointer to s, for filling optional fields.
func String(s string) *string {
	return &s
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
