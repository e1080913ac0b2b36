package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/groundsync/internal/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down> [dir]")
	}
	dir := "migrations"
	if len(os.Args) > 2 {
		dir = os.Args[2]
	}

	cfg, err := config.Load("groundsync-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "up":
		runMigrations(ctx, pool, files(dir, "up", false))
	case "down":
		runMigrations(ctx, pool, files(dir, "down", true))
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

// files lists NNN_name.<direction>.sql in apply order.
func files(dir, direction string, reverse bool) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*."+direction+".sql"))
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	if len(matches) == 0 {
		log.Fatalf("no %s migrations in %s", direction, dir)
	}
	sort.Strings(matches)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	}
	return matches
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool, files []string) {
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}

		if _, err := pool.Exec(ctx, string(data)); err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}

		fmt.Printf("OK  %s\n", f)
	}

	log.Println("all migrations applied")
}
