// Package main clears a stuck dirty flag in the schema_migrations table.
// golang-migrate marks a version dirty while it applies and unmarks it on
// completion; a crash or deploy timeout in between leaves the flag set, and
// the server then refuses to start with "Dirty database version". After an
// operator has confirmed the schema actually matches the recorded version,
// running this tool lets the next startup proceed. It never touches the
// schema itself.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		password := os.Getenv("DATABASE_PASSWORD")
		if password == "" {
			password = "postgres"
		}
		dsn = fmt.Sprintf("host=localhost port=5432 user=readmystudent password=%s dbname=readmystudent sslmode=disable", password)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	var version int
	var dirty bool
	if err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty); err != nil {
		log.Fatalf("read migration state: %v", err)
	}
	log.Printf("schema version %d, dirty=%v", version, dirty)

	if !dirty {
		log.Println("nothing to repair")
		return
	}

	if _, err := db.Exec("UPDATE schema_migrations SET dirty = false"); err != nil {
		log.Fatalf("clear dirty flag: %v", err)
	}
	log.Printf("dirty flag cleared at version %d; restart the server to retry migrations", version)
}
