package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"incident-ledger/config"
	"incident-ledger/pkg/database"
	"incident-ledger/pkg/logger"
	"incident-ledger/pkg/migrate"
)

const usage = `
Incident Ledger - Database CLI Tool

Usage:
  migrate [command] [args]

Commands:
  up            Apply all pending migrations
  down          Roll back the most recent migration
  redo          Roll back and re-apply the most recent migration
  status        Show applied and pending migrations
  version       Print the current schema version
  to <version>  Migrate up or down to the given version (YYYYMMDDHHMMSS)
  reset         Roll back every migration (DANGEROUS)
  validate      Check the embedded migration files without touching a database

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate status
  go run ./cmd/migrate to 20260301120100
`

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout for the command")
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	command := flag.Arg(0)

	if command == "validate" {
		if err := migrate.Validate(); err != nil {
			log.Fatalf("❌ Invalid migrations: %v", err)
		}
		log.Println("✅ Migrations are valid")
		return
	}

	cfg := config.LoadConfig()
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Fatal("❌ STORE_DRIVER=memory has no schema to migrate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := database.Connect(ctx, cfg, logger.New(cfg.LogMode))
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	switch command {
	case "up", "down", "redo", "status", "version":
		log.Printf("🚀 Running goose %s...", command)
		err = migrate.Run(ctx, db.SQL, command)
	case "to":
		if flag.NArg() < 2 {
			log.Fatal("❌ to requires a target version")
		}
		log.Printf("🚀 Migrating to version %s...", flag.Arg(1))
		err = migrate.MigrateToVersion(ctx, db.SQL, flag.Arg(1))
	case "reset":
		log.Println("⚠️  WARNING: rolling back every migration!")
		err = migrate.Run(ctx, db.SQL, "reset")
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("❌ %s failed: %v", command, err)
	}
	log.Printf("✅ %s completed", command)
}
