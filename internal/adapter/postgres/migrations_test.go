package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/Strob0t/ForgeFlow/internal/adapter/postgres"
)

// TestMigrationRoundTrip applies the embedded migrations, rolls every
// one back, and re-applies them. A migration whose Down section does
// not cleanly undo its Up section fails here.
func TestMigrationRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("up: %v", err)
	}
	applied, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatalf("version after up: %v", err)
	}
	if applied < 1 {
		t.Fatalf("expected at least one applied migration, got %d", applied)
	}

	if err := postgres.RollbackMigrations(ctx, dsn, int(applied)); err != nil {
		t.Fatalf("down: %v", err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatalf("version after down: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected version 0 after full rollback, got %d", v)
	}

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("re-up: %v", err)
	}
	v, err = postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatalf("version after re-up: %v", err)
	}
	if v != applied {
		t.Fatalf("expected version %d after re-up, got %d", applied, v)
	}
}
