package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/roberto/internal/record"
)

var (
	selectAll = fmt.Sprintf("SELECT %s FROM `%s` ORDER BY rowid",
		record.NotificationsTable.ColumnNames(), record.TableNotifications)
	selectByID = fmt.Sprintf("SELECT %s FROM `%s` WHERE notification_id = ?",
		record.NotificationsTable.ColumnNames(), record.TableNotifications)
	selectCount = fmt.Sprintf("SELECT COUNT(*) FROM `%s`", record.TableNotifications)
)

// ReadAll returns every stored notification in physical row order.
// Reads never take the write lock.
//
// Returns an empty slice (not nil) if the table is empty.
func (s *Store) ReadAll(ctx context.Context) ([]record.Notification, error) {
	rows, err := s.db.QueryContext(ctx, selectAll)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []record.Notification{}
	for rows.Next() {
		n, err := record.Scan(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return notifications, nil
}

// Get returns the notification with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (record.Notification, error) {
	n, err := record.Scan(s.db.QueryRowContext(ctx, selectByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return record.Notification{}, fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return record.Notification{}, err
	}
	return n, nil
}

// Count returns the number of stored notifications.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, selectCount).Scan(&count); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}
