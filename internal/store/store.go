package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/roberto/internal/invalidation"
	"github.com/roach88/roberto/internal/reactive"
	"github.com/roach88/roberto/internal/record"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// busyTimeoutMillis is how long a statement waits on a locked database.
const busyTimeoutMillis = 5000

// DefaultCompactionTimeout bounds the checkpoint and VACUUM that follow a
// ClearAll. Writers wait behind compaction, so it is kept well under the
// busy timeout.
const DefaultCompactionTimeout = time.Second

// maxReadConns bounds the pool for file databases. Writes hold one
// connection at a time (writeMu); the rest serve reactive reads.
const maxReadConns = 4

// Store provides durable storage for the notification history.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	path   string
	stmts  *stmtCache
	report OpenReport
	logger *slog.Logger

	// writeMu admits one write transaction at a time.
	writeMu sync.Mutex

	tracker     *invalidation.Tracker
	ownTracker  bool
	trackerStop context.CancelFunc
	trackerDone chan struct{}

	notifications *reactive.Stream[[]record.Notification]

	compactTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
	closed    bool
	closedMu  sync.RWMutex
}

// Option configures Open.
type Option func(*options)

type options struct {
	tracker        *invalidation.Tracker
	schema         record.SchemaDescriptor
	logger         *slog.Logger
	compactTimeout time.Duration
}

// WithTracker shares an existing tracker instead of starting a private one.
// The caller runs and closes it.
func WithTracker(t *invalidation.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithLogger sets the logger used for schema and compaction events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCompactionTimeout bounds the best-effort compaction after ClearAll.
// Non-positive values keep DefaultCompactionTimeout.
func WithCompactionTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.compactTimeout = d
		}
	}
}

// withSchema overrides the validated schema. Tests only.
func withSchema(s record.SchemaDescriptor) Option {
	return func(o *options) { o.schema = s }
}

// Open creates or opens a SQLite database at the given path, validates its
// schema against record.Schema and starts the invalidation tracker.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// A structural mismatch is never returned as an error: the managed tables
// are dropped and recreated, and OpenReport says so.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		schema:         record.Schema,
		logger:         slog.Default(),
		compactTimeout: DefaultCompactionTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isMemory(path) {
		// Every connection to ":memory:" is a different database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(maxReadConns)
		db.SetMaxIdleConns(maxReadConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	report, err := openSchema(context.Background(), db, o.schema, o.logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:      db,
		path:    path,
		stmts:   newStmtCache(db),
		report:  report,
		logger:  o.logger,
		tracker: o.tracker,

		compactTimeout: o.compactTimeout,
	}

	if s.tracker == nil {
		s.tracker = invalidation.NewTracker()
		s.ownTracker = true

		ctx, cancel := context.WithCancel(context.Background())
		s.trackerStop = cancel
		s.trackerDone = make(chan struct{})
		go func() {
			defer close(s.trackerDone)
			err := s.tracker.Run(ctx)
			if err != nil && ctx.Err() == nil && !errors.Is(err, invalidation.ErrClosed) {
				o.logger.Error("invalidation tracker stopped", "error", err)
			}
		}()
	}

	s.notifications = reactive.NewStream(s.tracker, []string{record.TableNotifications}, s.ReadAll)
	return s, nil
}

// Close stops the private tracker, releases cached statements and closes
// the database. Live subscriptions should be cancelled first; after Close
// they receive no further snapshots.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closedMu.Lock()
		s.closed = true
		s.closedMu.Unlock()

		// Wait out an in-flight write so its commit and notify complete.
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		if s.ownTracker {
			s.tracker.Close()
			<-s.trackerDone
			s.trackerStop()
		}

		stmtErr := s.stmts.close()
		dbErr := s.db.Close()
		if dbErr != nil {
			s.closeErr = dbErr
		} else {
			s.closeErr = stmtErr
		}
	})
	return s.closeErr
}

func (s *Store) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - writes made through it bypass invalidation.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Tracker returns the invalidation tracker committed writes notify.
func (s *Store) Tracker() *invalidation.Tracker {
	return s.tracker
}

// OpenReport describes what Open did to the schema.
func (s *Store) OpenReport() OpenReport {
	return s.report
}

// Notifications returns the live stream of every stored notification in
// physical row order. Each subscription re-reads after every committed
// write to the notifications table.
func (s *Store) Notifications() *reactive.Stream[[]record.Notification] {
	return s.notifications
}

// dsn renders the go-sqlite3 data source name. Pragmas are passed as DSN
// parameters so the driver applies them to every new connection.
func dsn(path string) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.Itoa(busyTimeoutMillis))
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	if !isMemory(path) {
		params.Set("_journal_mode", "WAL")
	}

	if isMemory(path) || strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params.Encode()
	}
	return "file:" + path + "?" + params.Encode()
}

func isMemory(path string) bool {
	return path == MemoryPath || strings.Contains(path, "mode=memory")
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if !strings.EqualFold(value, expected) {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
