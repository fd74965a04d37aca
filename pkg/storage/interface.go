package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
)

// StateStore persists what previous runs have seen.
// Every error returned is a *utils.StoreError.
type StateStore interface {
	// GetGlobalMaxUpdatedDate returns the largest updatedDate ever stored, 0 if the store is empty
	GetGlobalMaxUpdatedDate(ctx context.Context) (int64, error)

	// GetBySite returns the stored entry for site and whether it exists
	GetBySite(ctx context.Context, site string) (models.Entry, bool, error)

	// Put upserts entry, fully replacing any previous record for entry.Site
	Put(ctx context.Context, entry models.Entry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// ListEntries returns every stored entry ordered by site
	ListEntries(ctx context.Context) ([]models.Entry, error)

	// EntryCount returns the number of stored entries
	EntryCount(ctx context.Context) (int, error)

	// WriteEntriesLog writes one "site<TAB>updatedDate" line per stored entry to filePath
	WriteEntriesLog(ctx context.Context, filePath string) error

	// RunGC runs periodic maintenance until ctx is done. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close releases the underlying database
	Close() error
}

// WatermarkStore combines both interfaces for components that need full access
type WatermarkStore interface {
	StateStore
	StoreAdmin
}
