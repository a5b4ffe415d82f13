// Command migrate applies Reel's PostgreSQL schema. It is a deliberately
// small bootstrap tool, the cleaned-up counterpart of the teacher's
// cmd/seeder: no ORM migration framework, just exec the schema file.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/kelpejol/reel/internal/config"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}
	fmt.Println("connected to postgres")

	schema, err := readMigration("migrations/001_initial_schema.up.sql")
	if err != nil {
		log.Fatalf("read migration: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("apply migration: %v", err)
	}
	fmt.Println("schema applied")
}

// readMigration tries both the path relative to the repo root and the path
// relative to cmd/migrate, so `go run ./cmd/migrate` works from either.
func readMigration(relPath string) ([]byte, error) {
	if data, err := os.ReadFile(relPath); err == nil {
		return data, nil
	}
	return os.ReadFile("../../" + relPath)
}
