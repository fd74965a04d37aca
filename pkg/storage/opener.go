package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/config"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// Opener opens the watermark store of one configured site
type Opener interface {
	Open(ctx context.Context, siteKey string) (WatermarkStore, error)
	Close() error
}

// NewOpener returns the Opener for cfg.Driver
func NewOpener(cfg *config.AppConfig, log *logrus.Entry) (Opener, error) {
	switch cfg.Store.Driver {
	case "", config.StoreDriverBadger:
		return &BadgerOpener{StateDir: cfg.StateDir, Log: log}, nil
	case config.StoreDriverPostgres:
		return &PostgresOpener{DSN: cfg.Store.DSN, Log: log}, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", utils.ErrConfigValidation, cfg.Store.Driver)
	}
}

// BadgerOpener gives every site its own Badger directory under StateDir
type BadgerOpener struct {
	StateDir string
	Log      *logrus.Entry
}

func (o *BadgerOpener) Open(ctx context.Context, siteKey string) (WatermarkStore, error) {
	return NewBadgerStore(o.StateDir, siteKey, o.Log.WithField("site", siteKey))
}

// Close is a no-op; each BadgerStore is closed by its user
func (o *BadgerOpener) Close() error { return nil }

// PostgresOpener shares one connection pool between all sites.
// A failed connect is not remembered; the next Open tries again.
type PostgresOpener struct {
	DSN string
	Log *logrus.Entry

	// ConnectTimeout bounds the ping and migrations of one connect attempt
	ConnectTimeout time.Duration

	connect func(ctx context.Context, dsn string, log *logrus.Entry) (*sql.DB, error)

	mu sync.Mutex
	db *sql.DB
}

func (o *PostgresOpener) Open(ctx context.Context, siteKey string) (WatermarkStore, error) {
	db, err := o.pool(ctx)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(db, siteKey, false, o.Log.WithField("site", siteKey)), nil
}

func (o *PostgresOpener) pool(ctx context.Context) (*sql.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.db != nil {
		return o.db, nil
	}

	connect := o.connect
	if connect == nil {
		connect = OpenPostgres
	}
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// The pool outlives the run that happens to open it
	connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	db, err := connect(connectCtx, o.DSN, o.Log)
	if err != nil {
		o.Log.Warnf("Postgres connect failed, will retry on next open: %v", err)
		return nil, err
	}
	o.db = db
	return db, nil
}

func (o *PostgresOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.db == nil {
		return nil
	}
	err := o.db.Close()
	o.db = nil
	return err
}
