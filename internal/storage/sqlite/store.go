// Package sqlite provides a SQLite implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/jwulff/farmlink-go/internal/domain"
	"github.com/jwulff/farmlink-go/internal/storage"

	_ "modernc.org/sqlite"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB

	initStatus storage.SchemaStatus
	initAdded  []string
}

// NewMemoryStore creates an in-memory SQLite store.
func NewMemoryStore() (*Store, error) {
	return newStore(":memory:")
}

// NewFileStore creates a file-based SQLite store.
func NewFileStore(path string) (*Store, error) {
	return newStore(path + "?_pragma=busy_timeout(5000)")
}

// NewReadOnlyFileStore opens an existing database file without creating or
// migrating anything. Writes through it fail.
func NewReadOnlyFileStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db, initStatus: storage.SchemaExisted}, nil
}

func newStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	status, err := s.EnsureSchema(ctx)
	if err != nil {
		return err
	}
	added, err := s.MigrateSchema(ctx)
	if err != nil {
		return err
	}
	s.initStatus = status
	s.initAdded = added
	return nil
}

// InitReport returns what the startup migration found: whether the table was
// created and which columns were added to an older table.
func (s *Store) InitReport() (storage.SchemaStatus, []string) {
	return s.initStatus, s.initAdded
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Schema methods

// EnsureSchema creates the registros table when it is absent.
func (s *Store) EnsureSchema(ctx context.Context) (storage.SchemaStatus, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", tableName,
	).Scan(&count)
	if err != nil {
		return storage.SchemaExisted, &storage.OpError{Op: "inspect schema", Err: err}
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storage.SchemaExisted, &storage.OpError{Op: "create schema", Err: err}
	}

	if count == 0 {
		return storage.SchemaCreated, nil
	}
	return storage.SchemaExisted, nil
}

// MigrateSchema adds any declared column missing from the registros table and
// returns the names it added. Existing rows are kept; added columns are NULL.
func (s *Store) MigrateSchema(ctx context.Context) ([]string, error) {
	present, err := s.columns(ctx)
	if err != nil {
		return nil, &storage.OpError{Op: "inspect columns", Err: err}
	}

	var added []string
	for _, col := range additiveColumns {
		if present[col.Name] {
			continue
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, col.Name, col.Type))
		if err != nil {
			// Another process may have added it between inspect and alter.
			if isDuplicateColumn(err) {
				continue
			}
			return added, &storage.OpError{Op: "add column " + col.Name, Err: err}
		}
		added = append(added, col.Name)
	}
	return added, nil
}

func (s *Store) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = true
	}
	return present, rows.Err()
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// Reading methods

// InsertReading appends one reading and returns the identifier SQLite assigned.
func (s *Store) InsertReading(ctx context.Context, r domain.Reading) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO registros (numero_pacote, fazenda, dispositivo_id, temperatura,
		                       u1, u2, u3, u4, u5, fruto, data, hora)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nullable(r.PackageNumber), nullable(r.Farm), nullable(r.DeviceID), nullable(r.Temperature),
		nullable(r.U1), nullable(r.U2), nullable(r.U3), nullable(r.U4), nullable(r.U5),
		nullable(r.Fruit), nullable(r.Date), nullable(r.Time),
	)
	if err != nil {
		return 0, &storage.OpError{Op: "insert reading", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &storage.OpError{Op: "insert reading", Err: err}
	}
	return id, nil
}

// ListReadings returns every stored reading, newest identifier first. An
// empty table yields an empty, non-nil slice.
func (s *Store) ListReadings(ctx context.Context) ([]domain.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, numero_pacote, fazenda, dispositivo_id, temperatura,
		       u1, u2, u3, u4, u5, fruto, data, hora
		FROM registros ORDER BY id DESC
	`)
	if err != nil {
		return nil, &storage.OpError{Op: "list readings", Err: err}
	}
	defer rows.Close()

	readings := []domain.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, &storage.OpError{Op: "scan reading", Err: err}
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.OpError{Op: "list readings", Err: err}
	}
	return readings, nil
}

// readingColumns are the selected columns after id, in order.
var readingColumns = []string{
	"numero_pacote", "fazenda", "dispositivo_id", "temperatura",
	"u1", "u2", "u3", "u4", "u5", "fruto", "data", "hora",
}

// scanReading reads one row. SQLite keeps whatever type was written, so
// columns are scanned loosely and a value that does not fit its field is
// kept in Reading.Loose rather than failing the listing.
func scanReading(rows *sql.Rows) (domain.Reading, error) {
	var r domain.Reading
	raw := make([]any, len(readingColumns))
	dest := []any{&r.ID}
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return domain.Reading{}, err
	}
	for i, col := range readingColumns {
		assignColumn(&r, col, raw[i])
	}
	return r, nil
}

func assignColumn(r *domain.Reading, col string, v any) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return
	}

	var fits bool
	switch col {
	case "numero_pacote":
		r.PackageNumber, fits = asInt(v)
	case "temperatura":
		r.Temperature, fits = asFloat(v)
	case "u1":
		r.U1, fits = asFloat(v)
	case "u2":
		r.U2, fits = asFloat(v)
	case "u3":
		r.U3, fits = asFloat(v)
	case "u4":
		r.U4, fits = asFloat(v)
	case "u5":
		r.U5, fits = asFloat(v)
	case "fazenda":
		r.Farm, fits = asText(v)
	case "dispositivo_id":
		r.DeviceID, fits = asText(v)
	case "fruto":
		r.Fruit, fits = asText(v)
	case "data":
		r.Date, fits = asText(v)
	case "hora":
		r.Time, fits = asText(v)
	}
	if !fits {
		r.SetLoose(col, v)
	}
}

func asInt(v any) (*int64, bool) {
	switch n := v.(type) {
	case int64:
		return &n, true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			i := int64(n)
			return &i, true
		}
	}
	return nil, false
}

func asFloat(v any) (*float64, bool) {
	switch n := v.(type) {
	case float64:
		return &n, true
	case int64:
		f := float64(n)
		return &f, true
	}
	return nil, false
}

func asText(v any) (*string, bool) {
	if str, ok := v.(string); ok {
		return &str, true
	}
	return nil, false
}

// nullable turns an absent field into SQL NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Verify interface compliance
var _ storage.Store = (*Store)(nil)
