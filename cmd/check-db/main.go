// Package main is a diagnostic tool for testing database connectivity and
// inspecting live platform data. It connects to the database, queries the
// users, recommendation_requests, and recommendation_links tables, and prints
// a summary to stdout. The binary exits with a non-zero code on any failure so
// it can be embedded in health checks or CI/CD pipeline steps to gate
// deployments on a reachable, populated database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/readmystudent/readmystudent/internal/db/repositories"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "readmystudent"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=readmystudent password=%s dbname=readmystudent sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Accounts by role
	fmt.Println("=== ACCOUNTS ===")
	userRepo := repositories.NewUserRepository(db)
	totalUsers, err := userRepo.Count(context.Background())
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Total accounts: %d\n", totalUsers)

	rows, err := db.Query("SELECT role, COUNT(*), COUNT(*) FILTER (WHERE email_verified) FROM users GROUP BY role ORDER BY role")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var total, verified int
		if err := rows.Scan(&role, &total, &verified); err != nil {
			log.Printf("Warning: failed to scan account row: %v", err)
			continue
		}
		fmt.Printf("Role: %s — %d accounts (%d verified)\n", role, total, verified)
	}

	// Requests by status
	fmt.Println("\n=== RECOMMENDATION REQUESTS ===")
	rows2, err := db.Query("SELECT status, COUNT(*) FROM recommendation_requests GROUP BY status ORDER BY status")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	requestCount := 0
	for rows2.Next() {
		var status string
		var n int
		if err := rows2.Scan(&status, &n); err != nil {
			log.Printf("Warning: failed to scan request row: %v", err)
			continue
		}
		fmt.Printf("Status: %s — %d\n", status, n)
		requestCount += n
	}
	if requestCount == 0 {
		fmt.Println("No requests found!")
	}

	// Links by state
	fmt.Println("\n=== LINKS ===")
	rows3, err := db.Query("SELECT state, COUNT(*) FROM recommendation_links GROUP BY state ORDER BY state")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows3.Close()

	linkCount := 0
	for rows3.Next() {
		var state string
		var n int
		if err := rows3.Scan(&state, &n); err != nil {
			log.Printf("Warning: failed to scan link row: %v", err)
			continue
		}
		fmt.Printf("State: %s — %d\n", state, n)
		linkCount += n
	}
	if linkCount == 0 {
		fmt.Println("No links found!")
	}
}
