package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// timeLayout renders an entry's lastmod in messages
const timeLayout = "2006-01-02 15:04:05 MST"

// Notifier delivers new entries to subscribers. An empty slice is a no-op.
type Notifier interface {
	NotifyNewEntries(ctx context.Context, entries []models.Entry) error
}

// FormatEntry renders the one-line message for an entry
func FormatEntry(e models.Entry) string {
	return fmt.Sprintf("Updated URL %s (%s)", e.Site, e.UpdatedTime().Format(timeLayout))
}

// FormatMessages joins entry lines into messages of at most limit bytes each
func FormatMessages(entries []models.Entry, limit int) []string {
	var messages []string
	var b strings.Builder
	for _, e := range entries {
		line := FormatEntry(e)
		if len(line) > limit {
			line = truncate(line, limit)
		}
		if b.Len() > 0 && b.Len()+1+len(line) > limit {
			messages = append(messages, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		messages = append(messages, b.String())
	}
	return messages
}

// truncate cuts s to at most limit bytes on a rune boundary
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// LogNotifier writes every new entry to the log
type LogNotifier struct {
	log *logrus.Entry
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyNewEntries(ctx context.Context, entries []models.Entry) error {
	for _, e := range entries {
		n.log.WithFields(logrus.Fields{"site": e.Site, "updated": e.UpdatedTime()}).Info(FormatEntry(e))
	}
	return nil
}

// MultiNotifier fans out to every notifier and joins their failures
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier drops nil notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of wrapped notifiers
func (m *MultiNotifier) Len() int { return len(m.notifiers) }

func (m *MultiNotifier) NotifyNewEntries(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := n.NotifyNewEntries(ctx, entries); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &utils.NotifyError{Notifier: "multi", Err: errors.Join(errs...)}
}
