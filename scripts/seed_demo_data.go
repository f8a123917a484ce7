//go:build ignore
// +build ignore

// Demo Data Seeder
// Populates a tenant with contacts and activity events for local testing.
//
// Usage:
//   DATABASE_URL=postgres://... go run scripts/seed_demo_data.go \
//     --tenant=<uuid> --contacts=5000
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "github.com/lib/pq"
)

var (
	tenantFlag   = flag.String("tenant", "", "tenant UUID (generated if empty)")
	contactsFlag = flag.Int("contacts", 1000, "number of contacts to create")
	eventsFlag   = flag.Int("events", 10, "average activity events per contact")
)

var (
	cities    = []string{"Seoul", "Tokyo", "Berlin", "Austin", "Lisbon", "Toronto"}
	countries = []string{"KR", "JP", "DE", "US", "PT", "CA"}
	statuses  = []string{"active", "active", "active", "inactive", "unsubscribed"}
	tagPool   = []string{"vip", "newsletter", "beta", "churn-risk", "enterprise"}
	events    = []string{"open", "click", "reply", "purchase", "page_view"}
)

func main() {
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	tenantID := uuid.New()
	if *tenantFlag != "" {
		parsed, err := uuid.Parse(*tenantFlag)
		if err != nil {
			log.Fatalf("invalid --tenant: %v", err)
		}
		tenantID = parsed
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	log.Printf("Seeding tenant %s: %d contacts, ~%d events each", tenantID, *contactsFlag, *eventsFlag)
	start := time.Now()

	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("begin: %v", err)
	}

	contactStmt, err := tx.Prepare(`
		INSERT INTO contacts (id, tenant_id, email, first_name, last_name, city, country, status, tags, total_purchases, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
	if err != nil {
		log.Fatalf("prepare contacts: %v", err)
	}
	eventStmt, err := tx.Prepare(`
		INSERT INTO activity_events (id, tenant_id, contact_id, event_type, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		log.Fatalf("prepare events: %v", err)
	}

	totalEvents := 0
	for i := 0; i < *contactsFlag; i++ {
		id := uuid.New()
		loc := rand.Intn(len(cities))
		created := time.Now().AddDate(0, 0, -rand.Intn(720))
		lastActive := created.AddDate(0, 0, rand.Intn(90))

		tags := []string{}
		for _, t := range tagPool {
			if rand.Float64() < 0.2 {
				tags = append(tags, t)
			}
		}

		_, err := contactStmt.Exec(
			id, tenantID,
			fmt.Sprintf("demo+%d@example.com", i),
			fmt.Sprintf("First%d", i), fmt.Sprintf("Last%d", i),
			cities[loc], countries[loc],
			statuses[rand.Intn(len(statuses))],
			pq.Array(tags),
			rand.Intn(20),
			created, lastActive,
		)
		if err != nil {
			log.Fatalf("insert contact %d: %v", i, err)
		}

		n := rand.Intn(*eventsFlag * 2)
		for j := 0; j < n; j++ {
			occurred := time.Now().Add(-time.Duration(rand.Intn(90*24)) * time.Hour)
			if _, err := eventStmt.Exec(uuid.New(), tenantID, id, events[rand.Intn(len(events))], occurred); err != nil {
				log.Fatalf("insert event: %v", err)
			}
			totalEvents++
		}

		if (i+1)%1000 == 0 {
			log.Printf("  %d contacts...", i+1)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Fatalf("commit: %v", err)
	}

	log.Printf("Done in %s: %d contacts, %d events (tenant %s)",
		time.Since(start).Round(time.Millisecond), *contactsFlag, totalEvents, tenantID)
}
