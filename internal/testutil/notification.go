package testutil

import (
	"strconv"

	"github.com/roach88/roberto/internal/record"
)

// Notification returns a valid notification whose string fields are
// derived from id, so fixtures built from the same id compare equal.
func Notification(id, timestamp int64) record.Notification {
	s := strconv.FormatInt(id, 10)
	return record.Notification{
		ID:             id,
		UniqueID:       "uid-" + s,
		Key:            "0|com.example.app|" + s + "|null|10001",
		Timestamp:      timestamp,
		ShowTimestamp:  true,
		Text:           record.String("notification " + s),
		Title:          record.String("Title " + s),
		AppPackageName: "com.example.app",
	}
}

// Notifications returns one fixture per timestamp, with ids counting up
// from 1.
func Notifications(timestamps ...int64) []record.Notification {
	out := make([]record.Notification, len(timestamps))
	for i, ts := range timestamps {
		out[i] = Notification(int64(i+1), ts)
	}
	return out
}
