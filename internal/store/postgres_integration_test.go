//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"nutsdispatch/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(t.Context(), dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if _, err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	seeded(t, p)
	if _, err := p.Works(t.Context(), model.MustDate("2026-02-18")); err != nil {
		t.Fatalf("Works: %v", err)
	}
}
