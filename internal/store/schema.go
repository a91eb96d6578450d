package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/roberto/internal/metrics"
	"github.com/roach88/roberto/internal/record"
)

// Identity marker table. One row, fixed id, holding the identity hash of
// the schema the database was last opened with.
const (
	masterTable = "roberto_master_table"
	masterRowID = 42
)

// OpenOutcome is what Open did to the schema.
type OpenOutcome string

const (
	// OutcomeCreated means no managed table existed; all were created.
	OutcomeCreated OpenOutcome = "created"
	// OutcomeValidated means the stored structure matched exactly.
	OutcomeValidated OpenOutcome = "validated"
	// OutcomeRebuilt means a mismatch was found and every managed table
	// was dropped and recreated. Stored rows are gone.
	OutcomeRebuilt OpenOutcome = "rebuilt"
)

// SchemaMismatch describes how one stored table differs from its descriptor.
// It is reported, never returned as an error.
type SchemaMismatch struct {
	Table string   `json:"table"`
	Diffs []string `json:"diffs"`
}

func (m SchemaMismatch) String() string {
	return fmt.Sprintf("%s: %s", m.Table, strings.Join(m.Diffs, "; "))
}

// OpenReport records the result of schema validation at open time.
type OpenReport struct {
	Outcome OpenOutcome `json:"outcome"`

	// IdentityHash is the hash now stamped in the marker table.
	IdentityHash string `json:"identity_hash"`

	// PreviousIdentity is the hash found in the marker table before open,
	// empty when there was none.
	PreviousIdentity string `json:"previous_identity,omitempty"`

	Mismatches []SchemaMismatch `json:"mismatches,omitempty"`
}

// queryer is the subset of *sql.DB and *sql.Tx used by schema inspection.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// openSchema creates, validates or rebuilds the managed tables in a single
// transaction and stamps the identity marker.
func openSchema(ctx context.Context, db *sql.DB, schema record.SchemaDescriptor, logger *slog.Logger) (OpenReport, error) {
	hash, err := schema.IdentityHash()
	if err != nil {
		return OpenReport{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return OpenReport{}, fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	report, err := reconcileSchema(ctx, tx, schema, hash)
	if err != nil {
		return OpenReport{}, err
	}

	if err := tx.Commit(); err != nil {
		return OpenReport{}, fmt.Errorf("commit schema: %w", err)
	}

	metrics.SchemaOpensTotal.WithLabelValues(string(report.Outcome)).Inc()

	switch report.Outcome {
	case OutcomeRebuilt:
		for _, m := range report.Mismatches {
			logger.Warn("schema mismatch, table rebuilt", "table", m.Table, "diffs", m.Diffs)
		}
		logger.Warn("schema rebuilt, stored notifications discarded",
			"previous_identity", report.PreviousIdentity,
			"identity", report.IdentityHash)
	case OutcomeCreated:
		logger.Info("schema created", "identity", report.IdentityHash)
	default:
		if report.PreviousIdentity != report.IdentityHash {
			logger.Info("schema identity restamped",
				"previous_identity", report.PreviousIdentity,
				"identity", report.IdentityHash)
		}
	}

	return report, nil
}

func reconcileSchema(ctx context.Context, q queryer, schema record.SchemaDescriptor, hash string) (OpenReport, error) {
	report := OpenReport{IdentityHash: hash}

	previous, err := readIdentity(ctx, q)
	if err != nil {
		return OpenReport{}, err
	}
	report.PreviousIdentity = previous

	found := 0
	for _, want := range schema.Tables {
		got, ok, err := readTableInfo(ctx, q, want.Name)
		if err != nil {
			return OpenReport{}, err
		}
		if !ok {
			report.Mismatches = append(report.Mismatches, SchemaMismatch{
				Table: want.Name,
				Diffs: []string{want.Name + ": missing table"},
			})
			continue
		}
		found++
		if diffs := want.Diff(got); len(diffs) > 0 {
			report.Mismatches = append(report.Mismatches, SchemaMismatch{Table: want.Name, Diffs: diffs})
		}
	}

	switch {
	case found == 0:
		report.Outcome = OutcomeCreated
		report.Mismatches = nil
	case len(report.Mismatches) > 0:
		report.Outcome = OutcomeRebuilt
		if err := dropTables(ctx, q, schema); err != nil {
			return OpenReport{}, err
		}
	default:
		report.Outcome = OutcomeValidated
	}

	if report.Outcome != OutcomeValidated {
		if err := createTables(ctx, q, schema); err != nil {
			return OpenReport{}, err
		}
	}

	if err := stampIdentity(ctx, q, hash); err != nil {
		return OpenReport{}, err
	}
	return report, nil
}

// readTableInfo reads the stored structure of table via PRAGMA table_info.
// ok is false when the table does not exist.
func readTableInfo(ctx context.Context, q queryer, table string) (desc record.TableDescriptor, ok bool, err error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(`%s`)", table))
	if err != nil {
		return record.TableDescriptor{}, false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	desc.Name = table
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull bool
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return record.TableDescriptor{}, false, fmt.Errorf("scan table info %s: %w", table, err)
		}
		desc.Columns = append(desc.Columns, record.Column{
			Name:               name,
			Type:               typ,
			NotNull:            notNull,
			PrimaryKeyPosition: pk,
		})
	}
	if err := rows.Err(); err != nil {
		return record.TableDescriptor{}, false, fmt.Errorf("iterate table info %s: %w", table, err)
	}

	return desc, len(desc.Columns) > 0, nil
}

func readIdentity(ctx context.Context, q queryer) (string, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", masterTable,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("look up %s: %w", masterTable, err)
	}
	if exists == 0 {
		return "", nil
	}

	var hash string
	err = q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT identity_hash FROM %s WHERE id = %d", masterTable, masterRowID),
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}
	return hash, nil
}

func stampIdentity(ctx context.Context, q queryer, hash string) error {
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, identity_hash TEXT)", masterTable),
		fmt.Sprintf("INSERT OR REPLACE INTO %s (id, identity_hash) VALUES (%d, ?)", masterTable, masterRowID),
	}
	if _, err := q.ExecContext(ctx, stmts[0]); err != nil {
		return fmt.Errorf("create %s: %w", masterTable, err)
	}
	if _, err := q.ExecContext(ctx, stmts[1], hash); err != nil {
		return fmt.Errorf("stamp identity: %w", err)
	}
	return nil
}

func createTables(ctx context.Context, q queryer, schema record.SchemaDescriptor) error {
	for _, t := range schema.Tables {
		if _, err := q.ExecContext(ctx, t.CreateTableSQL()); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func dropTables(ctx context.Context, q queryer, schema record.SchemaDescriptor) error {
	for _, name := range schema.TableNames() {
		if _, err := q.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", name)); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
	}
	return nil
}
