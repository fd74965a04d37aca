package models

import "time"

// Entry is one leaf resource of a sitemap tree, keyed by its canonical URL
type Entry struct {
	Site        string `json:"site"`        // Canonical URL, unique within a crawl result
	UpdatedDate int64  `json:"updatedDate"` // Epoch milliseconds of <lastmod>, 0 when absent
}

// UpdatedTime returns UpdatedDate as a time.Time in UTC
func (e Entry) UpdatedTime() time.Time {
	return time.UnixMilli(e.UpdatedDate).UTC()
}

// NodeKind tells a leaf entry apart from a pointer to another sitemap document
type NodeKind int

const (
	NodeLeaf         NodeKind = iota // Content resource
	NodeChildSitemap                 // Nested sitemap document
)

// String implements fmt.Stringer for logging
func (k NodeKind) String() string {
	switch k {
	case NodeLeaf:
		return "leaf"
	case NodeChildSitemap:
		return "child_sitemap"
	}
	return "unknown"
}

// Node is a decoded <url> or <sitemap> element. It is never persisted.
type Node struct {
	Location     string
	LastModified int64
	Kind         NodeKind
}

// IsChildSitemap reports whether the node points to another sitemap document
func (n Node) IsChildSitemap() bool {
	return n.Kind == NodeChildSitemap
}

// Entry converts the node into the value stored and compared by watermarks
func (n Node) Entry() Entry {
	return Entry{Site: n.Location, UpdatedDate: n.LastModified}
}

// RunResult summarises one change-detection run for a single site
type RunResult struct {
	SiteKey           string        `json:"site_key"`
	RootURL           string        `json:"root_url"`
	Strategy          Strategy      `json:"strategy"`
	NewEntries        []Entry       `json:"new_entries"`
	EntriesSeen       int           `json:"entries_seen"`       // Leaves examined by the detector
	ShortCircuited    bool          `json:"short_circuited"`    // No fetch beyond the root was needed
	WatermarkAdvanced bool          `json:"watermark_advanced"` // At least one watermark record was written
	OrderingAnomaly   bool          `json:"ordering_anomaly"`   // A later top-level node was newer than the first
	NotifyFailed      bool          `json:"notify_failed"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}
