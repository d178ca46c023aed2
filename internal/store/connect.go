package store

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Connect opens the configured store. SQL stores are migrated on open; a
// non-empty fixtures path is loaded on top.
func Connect(ctx context.Context, driver, dsn, fixtures string) (Store, error) {
	var st Store
	switch driver {
	case "", "memory":
		st = NewMemory()
	case "sqlite":
		var (
			s   *SQL
			err error
		)
		if strings.HasPrefix(dsn, "file:") {
			s, err = Open(ctx, driver, dsn)
		} else {
			s, err = OpenSQLite(ctx, dsn)
		}
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		st = s
	case "pgx":
		s, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		st = s
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if s, ok := st.(*SQL); ok {
		v, err := s.Migrate(ctx)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Printf("store ready driver=%s schema=%d", driver, v)
	}
	if fixtures != "" {
		f, err := LoadFixtures(fixtures)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		if err := f.Apply(ctx, st); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return st, nil
}
