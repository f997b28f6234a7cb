package postgres

import (
	"testing"
	"time"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "phantomtrade"})
	want := "postgres://u:p@db:5432/phantomtrade?sslmode=disable"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Fatalf("explicit DSN not preferred: %q", got)
	}
}

func TestWhereBuilderNumbersPlaceholders(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var w whereBuilder
	w.add("wallet_address = $%d", "W")
	w.clauses = append(w.clauses, "tx_hash IS NOT NULL")
	w.addRange("created_at", domain.ListOpts{Since: &since})
	where := w.sql()
	page := w.page(domain.ListOpts{Limit: 10, Offset: 20})

	if where != " WHERE wallet_address = $1 AND tx_hash IS NOT NULL AND created_at >= $2" {
		t.Fatalf("where = %q", where)
	}
	if page != " LIMIT $3 OFFSET $4" {
		t.Fatalf("page = %q", page)
	}
	if len(w.args) != 4 || w.args[2] != 10 || w.args[3] != 20 {
		t.Fatalf("args = %v", w.args)
	}
}

func TestMigrationFilesSorted(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("migrations = %v", names)
	}
}
