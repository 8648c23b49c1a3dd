// Command migrate applies the ledger schema migrations with goose.
//
// Usage:
//
//	go run ./cmd/migrate up          # apply all pending migrations
//	go run ./cmd/migrate down        # roll back the last migration
//	go run ./cmd/migrate status      # show migration status
//	go run ./cmd/migrate version     # show current schema version
//	go run ./cmd/migrate redo        # roll back and re-apply the last migration
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command> [args]")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if err := goose.RunContext(context.Background(), cmd, db, migrationsDir, args...); err != nil {
		log.Fatalf("migration %s: %v", cmd, err)
	}
}
