package detect

import "github.com/Sriram-PR/sitemap-watcher/pkg/models"

// SelectNew returns the entries strictly newer than watermark, in input order
func SelectNew(entries []models.Entry, watermark int64) []models.Entry {
	var fresh []models.Entry
	for _, e := range entries {
		if e.UpdatedDate > watermark {
			fresh = append(fresh, e)
		}
	}
	return fresh
}

// MaxUpdatedDate returns the largest UpdatedDate, 0 for no entries
func MaxUpdatedDate(entries []models.Entry) int64 {
	var maxUpdated int64
	for _, e := range entries {
		if e.UpdatedDate > maxUpdated {
			maxUpdated = e.UpdatedDate
		}
	}
	return maxUpdated
}
