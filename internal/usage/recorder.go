// Package usage persists per-request token accounting to SQLite.
// Only token counts and model names are stored, never message content.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/oa2a/oa2a/internal/logging"
	_ "modernc.org/sqlite"
)

// Record is one completed proxy request.
type Record struct {
	Model                    string
	Stream                   bool
	Failed                   bool
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	WebSearchRequests        int
	RequestedAt              time.Time
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultRetentionDays = 30
	channelBufferSize    = 1000
)

// Recorder batches records through a buffered channel and writes them
// to SQLite from a background worker. Safe for concurrent use; Enqueue
// never blocks the request path.
type Recorder struct {
	db            *sql.DB
	recordChan    chan Record
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	batchSize     int
	retentionDays int
	dbPath        string
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model TEXT NOT NULL,
		stream BOOLEAN NOT NULL DEFAULT 0,
		failed BOOLEAN NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_creation_input_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_input_tokens INTEGER NOT NULL DEFAULT 0,
		web_search_requests INTEGER NOT NULL DEFAULT 0,
		requested_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);
	`
	_, err := db.Exec(schema)
	return err
}

// NewRecorder opens (or creates) the database at dbPath. The recorder
// must be started with Start() before use.
func NewRecorder(dbPath string) (*Recorder, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("usage database path is required")
	}

	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Recorder{
		db:            db,
		recordChan:    make(chan Record, channelBufferSize),
		flushTicker:   time.NewTicker(defaultFlushInterval),
		cleanupTicker: time.NewTicker(24 * time.Hour),
		stopChan:      make(chan struct{}),
		batchSize:     defaultBatchSize,
		retentionDays: defaultRetentionDays,
		dbPath:        dbPath,
	}, nil
}

// DBPath returns the resolved filesystem path of the database.
func (r *Recorder) DBPath() string {
	if r == nil {
		return ""
	}
	return r.dbPath
}

// Start launches the write and cleanup workers.
func (r *Recorder) Start() {
	r.wg.Add(2)
	go r.writeLoop()
	go r.cleanupLoop()
}

// Stop flushes pending records and closes the database.
func (r *Recorder) Stop() error {
	if r == nil {
		return nil
	}
	var err error
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.flushTicker.Stop()
		r.cleanupTicker.Stop()
		r.wg.Wait()
		if r.db != nil {
			err = r.db.Close()
		}
	})
	return err
}

// Enqueue adds a record to the write queue. Never blocks; records are
// dropped with a warning when the queue is full.
func (r *Recorder) Enqueue(record Record) {
	if r == nil {
		return
	}
	if record.RequestedAt.IsZero() {
		record.RequestedAt = time.Now()
	}
	select {
	case r.recordChan <- record:
	default:
		log.Warnf("usage queue full, dropping record for model %s", record.Model)
	}
}

// Flush drains the queue and writes everything synchronously.
func (r *Recorder) Flush(ctx context.Context) error {
	if r == nil {
		return nil
	}
	batch := make([]Record, 0, r.batchSize)
	for {
		select {
		case record := <-r.recordChan:
			batch = append(batch, record)
			if len(batch) >= r.batchSize {
				if err := r.writeBatch(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				return r.writeBatch(ctx, batch)
			}
			return nil
		}
	}
}

// Cleanup removes records older than the given time.
func (r *Recorder) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE requested_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	batch := make([]Record, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.writeBatch(ctx, batch); err != nil {
			log.Errorf("failed to write usage batch: %v", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case record := <-r.recordChan:
			batch = append(batch, record)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-r.flushTicker.C:
			flush()
		case <-r.stopChan:
			for {
				select {
				case record := <-r.recordChan:
					batch = append(batch, record)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) writeBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (
			model, stream, failed, input_tokens, output_tokens,
			cache_creation_input_tokens, cache_read_input_tokens,
			web_search_requests, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		_, err := stmt.ExecContext(ctx,
			record.Model,
			record.Stream,
			record.Failed,
			record.InputTokens,
			record.OutputTokens,
			record.CacheCreationInputTokens,
			record.CacheReadInputTokens,
			record.WebSearchRequests,
			record.RequestedAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Recorder) cleanupLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.cleanupTicker.C:
			cutoff := time.Now().AddDate(0, 0, -r.retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			deleted, err := r.Cleanup(ctx, cutoff)
			cancel()
			if err != nil {
				log.Errorf("failed to clean up usage records: %v", err)
			} else if deleted > 0 {
				log.Infof("cleaned up %d usage records older than %d days", deleted, r.retentionDays)
			}
		case <-r.stopChan:
			return
		}
	}
}
