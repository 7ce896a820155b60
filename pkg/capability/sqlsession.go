package capability

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DBSession implements SqlSession over database/sql. Registered drivers:
// postgres (lib/pq) and sqlite (modernc.org/sqlite, cgo-free).
type DBSession struct {
	db *sql.DB
}

// NewDBSession creates a disconnected database session.
func NewDBSession() *DBSession {
	return &DBSession{}
}

// Connect opens and pings the database. A ping failure closes the handle and
// reports a connection error so the engine can classify the phase as fatal.
func (s *DBSession) Connect(ctx context.Context, driver, host string, port int, user, credential, database string) error {
	if s.db != nil {
		return fmt.Errorf("sql: already connected")
	}

	dsn, err := buildDSN(driver, host, port, user, credential, database)
	if err != nil {
		return err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("sql: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("sql: ping %s at %s:%d: %w", driver, host, port, err)
	}
	s.db = db
	return nil
}

// Query executes the statement and materializes every row as strings.
// NULL values render as the empty string.
func (s *DBSession) Query(ctx context.Context, query string) (*SQLRows, error) {
	if s.db == nil {
		return nil, fmt.Errorf("sql: not connected")
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sql: query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sql: columns: %w", err)
	}

	result := &SQLRows{Columns: columns}
	for rows.Next() {
		raw := make([]sql.NullString, len(columns))
		scan := make([]any, len(columns))
		for i := range raw {
			scan[i] = &raw[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("sql: scan: %w", err)
		}
		row := make([]string, len(columns))
		for i, v := range raw {
			if v.Valid {
				row[i] = v.String
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql: rows: %w", err)
	}
	return result, nil
}

// Disconnect closes the database handle. Safe to call when not connected.
func (s *DBSession) Disconnect() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func buildDSN(driver, host string, port int, user, credential, database string) (string, error) {
	switch driver {
	case "postgres":
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, credential, database), nil
	case "sqlite":
		// database is a file path for sqlite; host/port/user are unused
		return fmt.Sprintf("file:%s", database), nil
	default:
		return "", fmt.Errorf("sql: unsupported driver %q", driver)
	}
}
