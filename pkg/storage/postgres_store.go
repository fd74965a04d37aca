package storage

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// PostgresStore implements WatermarkStore on a shared Postgres table.
// Each configured site writes under its own namespace.
type PostgresStore struct {
	db        *sql.DB
	namespace string
	ownsDB    bool
	log       *logrus.Entry
}

// OpenPostgres connects to dsn and applies migrations
func OpenPostgres(ctx context.Context, dsn string, log *logrus.Entry) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &utils.StoreError{Op: "Open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &utils.StoreError{Op: "Open", Err: err}
	}
	if err := RunMigrations(db, log); err != nil {
		db.Close()
		return nil, &utils.StoreError{Op: "Migrate", Err: err}
	}
	return db, nil
}

// NewPostgresStore wraps an open pool. Close leaves the pool open unless ownsDB is set.
func NewPostgresStore(db *sql.DB, namespace string, ownsDB bool, log *logrus.Entry) *PostgresStore {
	return &PostgresStore{db: db, namespace: namespace, ownsDB: ownsDB, log: log}
}

// GetGlobalMaxUpdatedDate implements StateStore
func (s *PostgresStore) GetGlobalMaxUpdatedDate(ctx context.Context) (int64, error) {
	var maxUpdated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT max_updated FROM sitemap_watermarks WHERE namespace = $1`,
		s.namespace,
	).Scan(&maxUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, &utils.StoreError{Op: "GetGlobalMax", Key: s.namespace, Err: err}
	}
	return maxUpdated, nil
}

// GetBySite implements StateStore
func (s *PostgresStore) GetBySite(ctx context.Context, site string) (models.Entry, bool, error) {
	entry := models.Entry{Site: site}
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_date FROM sitemap_entries WHERE namespace = $1 AND site = $2`,
		s.namespace, site,
	).Scan(&entry.UpdatedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, &utils.StoreError{Op: "GetBySite", Key: site, Err: err}
	}
	return entry, true, nil
}

// Put implements StateStore. The namespace max is raised in the same transaction and never lowered.
func (s *PostgresStore) Put(ctx context.Context, entry models.Entry) error {
	if entry.Site == "" {
		return &utils.StoreError{Op: "Put", Err: errors.New("entry has empty site")}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &utils.StoreError{Op: "Put", Key: entry.Site, Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sitemap_entries (namespace, site, updated_date, stored_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, site) DO UPDATE
		SET updated_date = EXCLUDED.updated_date, stored_at = EXCLUDED.stored_at`,
		s.namespace, entry.Site, entry.UpdatedDate, time.Now().UTC(),
	)
	if err != nil {
		s.log.WithField("site", entry.Site).Errorf("Postgres upsert failed: %v", err)
		return &utils.StoreError{Op: "Put", Key: entry.Site, Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sitemap_watermarks (namespace, max_updated)
		VALUES ($1, $2)
		ON CONFLICT (namespace) DO UPDATE
		SET max_updated = GREATEST(sitemap_watermarks.max_updated, EXCLUDED.max_updated)`,
		s.namespace, entry.UpdatedDate,
	)
	if err != nil {
		return &utils.StoreError{Op: "Put", Key: entry.Site, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &utils.StoreError{Op: "Put", Key: entry.Site, Err: err}
	}
	return nil
}

// ListEntries implements StoreAdmin
func (s *PostgresStore) ListEntries(ctx context.Context) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site, updated_date FROM sitemap_entries WHERE namespace = $1 ORDER BY site`,
		s.namespace,
	)
	if err != nil {
		return nil, &utils.StoreError{Op: "List", Key: s.namespace, Err: err}
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.Site, &e.UpdatedDate); err != nil {
			return nil, &utils.StoreError{Op: "List", Key: s.namespace, Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &utils.StoreError{Op: "List", Key: s.namespace, Err: err}
	}
	return entries, nil
}

// EntryCount implements StoreAdmin
func (s *PostgresStore) EntryCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sitemap_entries WHERE namespace = $1`, s.namespace,
	).Scan(&count)
	if err != nil {
		return 0, &utils.StoreError{Op: "Count", Key: s.namespace, Err: err}
	}
	return count, nil
}

// WriteEntriesLog implements StoreAdmin
func (s *PostgresStore) WriteEntriesLog(ctx context.Context, filePath string) error {
	entries, err := s.ListEntries(ctx)
	if err != nil {
		return err
	}
	file, err := os.Create(filePath)
	if err != nil {
		return &utils.StoreError{Op: "WriteLog", Key: filePath, Err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, e := range entries {
		if _, err := writer.WriteString(e.Site + "\t" + strconv.FormatInt(e.UpdatedDate, 10) + "\n"); err != nil {
			return &utils.StoreError{Op: "WriteLog", Key: filePath, Err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
		}
	}
	if err := writer.Flush(); err != nil {
		return &utils.StoreError{Op: "WriteLog", Key: filePath, Err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
	}
	if err := file.Sync(); err != nil {
		return &utils.StoreError{Op: "WriteLog", Key: filePath, Err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
	}
	s.log.Infof("Wrote %d entries to %s", len(entries), filePath)
	return nil
}

// RunGC is a no-op wait; Postgres autovacuum owns maintenance
func (s *PostgresStore) RunGC(ctx context.Context, interval time.Duration) {
	<-ctx.Done()
}

// Close implements StoreAdmin
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return &utils.StoreError{Op: "Close", Err: err}
	}
	return nil
}
