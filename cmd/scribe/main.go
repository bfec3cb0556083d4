// Package main implements the scribe command line tool, which drains a
// queue of stored records through an LLM transformation service with a
// pool of concurrent workers.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/credential"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/platform/gemini"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/platform/postgres"
	"github.com/phrazzld/scribe/internal/task"
	"github.com/phrazzld/scribe/migrations"
)

const usage = `Usage: scribe <command> [flags]

Commands:
  run       process all schedulable records (default)
  migrate   apply pending database migrations
  seed      load records from a file into the queue

Run 'scribe <command> -h' for command flags.
`

func main() {
	os.Exit(run())
}

func run() int {
	command := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: failed to load configuration: %v\n", err)
		return 1
	}

	log, err := logger.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: failed to set up logger: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	db, err := openDatabase(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		return 1
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Warn("failed to close database", "error", closeErr)
		}
	}()

	switch command {
	case "run":
		return runPool(ctx, cfg, db, log)
	case "migrate":
		return runMigrate(ctx, db, log)
	case "seed":
		return runSeed(ctx, db, log, args)
	default:
		fmt.Fprintf(os.Stderr, "scribe: unknown command %q\n\n%s", command, usage)
		return 2
	}
}

// openDatabase connects and verifies the connection with a bounded ping.
func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// migrateUp applies all pending migrations from the embedded filesystem.
func migrateUp(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func runMigrate(ctx context.Context, db *sql.DB, log *slog.Logger) int {
	if err := migrateUp(ctx, db); err != nil {
		log.Error("migration failed", "error", err)
		return 1
	}
	log.Info("migrations applied")
	return 0
}

func runPool(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger) int {
	// Schema is brought up to date before any claim touches the table.
	if err := migrateUp(ctx, db); err != nil {
		log.Error("migration failed", "error", err)
		return 1
	}

	creds, err := credential.NewPool(cfg.LLM.APIKeys())
	if err != nil {
		log.Error("credential pool setup failed", "error", err)
		return 1
	}

	gen, err := gemini.NewGenerator(log, cfg.LLM)
	if err != nil {
		log.Error("generator setup failed", "error", err)
		return 1
	}

	pool := task.NewPool(postgres.NewRecordStore(db), gen, creds, task.PoolConfig{
		WorkerCount: cfg.Pool.WorkerCount,
		Worker: task.WorkerConfig{
			BatchSize:     cfg.Pool.BatchSize,
			BatchDelay:    time.Duration(cfg.Pool.BatchDelaySeconds) * time.Second,
			RetryCap:      cfg.Pool.RetryCap,
			RetryDelay:    time.Duration(cfg.Pool.RetryDelaySeconds) * time.Second,
			RotationDelay: time.Duration(cfg.Pool.RotationDelaySeconds) * time.Second,
		},
	}, log)

	summary, err := pool.Run(ctx)
	if err != nil {
		log.Error("run failed", "error", err)
		return 1
	}

	if fatal := summary.FatalError(); fatal != nil {
		log.Error("run terminated",
			"error", fatal,
			"items_processed", summary.ItemsProcessed,
			"elapsed", summary.Elapsed)
		return 1
	}

	if ctx.Err() != nil {
		log.Info("run interrupted",
			"items_processed", summary.ItemsProcessed,
			"elapsed", summary.Elapsed)
		return 0
	}

	log.Info("run complete",
		"items_processed", summary.ItemsProcessed,
		"batches_completed", summary.BatchesCompleted,
		"batches_failed", summary.BatchesFailed,
		"done", summary.Done,
		"failed_retryable", summary.FailedRetryable,
		"elapsed", summary.Elapsed)
	return 0
}

func runSeed(ctx context.Context, db *sql.DB, log *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "", "path to a JSON array or newline-delimited text file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "scribe seed: -file is required")
		return 2
	}

	if err := migrateUp(ctx, db); err != nil {
		log.Error("migration failed", "error", err)
		return 1
	}

	records, err := loadSeedRecords(*file)
	if err != nil {
		log.Error("failed to load seed file", "file", *file, "error", err)
		return 1
	}

	recordStore := postgres.NewRecordStore(db)
	created := 0
	for _, rec := range records {
		if err := recordStore.Create(ctx, rec); err != nil {
			log.Error("failed to create record",
				"record_id", rec.ID,
				"error", err)
			return 1
		}
		created++
	}

	log.Info("seeded records", "file", *file, "count", created)
	return 0
}

// seedItem is one entry of a JSON seed file.
type seedItem struct {
	SourceText string          `json:"source_text"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// loadSeedRecords reads records from a seed file. A .json file holds an
// array of objects with source_text and optional metadata; any other file
// is read as one record per non-empty line.
func loadSeedRecords(path string) ([]*domain.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if strings.HasSuffix(path, ".json") {
		var items []seedItem
		if err := json.NewDecoder(f).Decode(&items); err != nil {
			return nil, fmt.Errorf("failed to parse seed file: %w", err)
		}

		records := make([]*domain.Record, 0, len(items))
		for i, item := range items {
			rec, err := domain.NewRecord(item.SourceText)
			if err != nil {
				return nil, fmt.Errorf("invalid seed entry %d: %w", i, err)
			}
			rec.Metadata = item.Metadata
			if err := rec.Validate(); err != nil {
				return nil, fmt.Errorf("invalid seed entry %d: %w", i, err)
			}
			records = append(records, rec)
		}
		return records, nil
	}

	var records []*domain.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		rec, err := domain.NewRecord(text)
		if err != nil {
			return nil, fmt.Errorf("invalid seed line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("seed file contains no records")
	}
	return records, nil
}
