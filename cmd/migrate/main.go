package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"fadeout/internal/migrations"
	"fadeout/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "./fadeout.db", "Path to the database file")
	dryRun := flag.Bool("dry-run", false, "List pending migrations without applying them")
	flag.Parse()

	if err := security.ValidateFilePath(*dbPath); err != nil {
		log.Fatalf("Invalid database path: %v", err)
	}

	db, err := sql.Open("sqlite3", *dbPath+"?_foreign_keys=on")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	scripts, err := migrations.GetSchemaScripts()
	if err != nil {
		log.Fatalf("Failed to load migrations: %v", err)
	}

	applied, err := applyMigrations(db, scripts, *dryRun, os.Stdout)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		fmt.Printf("%d migration(s) pending\n", applied)
		return
	}
	fmt.Printf("Database schema up to date (%d applied)\n", applied)
}

// applyMigrations runs every script not yet recorded in schema_migrations,
// each in its own transaction. With dryRun it only reports what is pending.
func applyMigrations(db *sql.DB, scripts []migrations.Script, dryRun bool, out io.Writer) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	count := 0
	for _, script := range scripts {
		var exists int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE name = ?", script.Name).Scan(&exists); err != nil {
			return count, fmt.Errorf("failed to check migration %s: %w", script.Name, err)
		}
		if exists > 0 {
			fmt.Fprintf(out, "Migration %s already applied, skipping...\n", script.Name)
			continue
		}

		count++
		if dryRun {
			fmt.Fprintf(out, "Pending: %s\n", script.Name)
			continue
		}

		fmt.Fprintf(out, "Applying migration %s\n", script.Name)
		if err := applyScript(db, script); err != nil {
			return count - 1, err
		}
	}

	return count, nil
}

func applyScript(db *sql.DB, script migrations.Script) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(script.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", script.Name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (name) VALUES (?)", script.Name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", script.Name, err)
	}
	return tx.Commit()
}
