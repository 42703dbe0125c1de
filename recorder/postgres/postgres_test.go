package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/gregbrowndev/eventsourcing/core/testsuite"
	"github.com/gregbrowndev/eventsourcing/recorder/postgres"
)

// TestSuite runs against a real database and is skipped unless
// POSTGRES_DBNAME is set. Each run truncates the tables it uses.
func TestSuite(t *testing.T) {
	dbname := os.Getenv("POSTGRES_DBNAME")
	if dbname == "" {
		t.Skip("POSTGRES_DBNAME not set")
	}

	conninfo := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		envOr("POSTGRES_HOST", "localhost"),
		envOr("POSTGRES_PORT", "5432"),
		dbname,
		envOr("POSTGRES_USER", "postgres"),
		os.Getenv("POSTGRES_PASSWORD"),
	)

	f := func() (testsuite.Recorder, func(), error) {
		db, err := sql.Open("postgres", conninfo)
		if err != nil {
			return nil, nil, err
		}
		r := postgres.Open(db)
		if err := r.Migrate(context.Background()); err != nil {
			return nil, nil, err
		}
		for _, table := range []string{"events", "snapshots"} {
			if _, err := db.Exec("truncate table " + table); err != nil {
				return nil, nil, err
			}
		}
		return r, func() { r.Close() }, nil
	}
	testsuite.Test(t, f)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
