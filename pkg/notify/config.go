package notify

import (
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/config"
	"github.com/Sriram-PR/sitemap-watcher/pkg/fetch"
)

// FromConfig builds the notifiers enabled in cfg. It returns nil when none are.
func FromConfig(cfg config.NotifyConfig, fetcher *fetch.Fetcher, log *logrus.Entry) Notifier {
	var notifiers []Notifier
	if cfg.Log {
		notifiers = append(notifiers, NewLogNotifier(log.WithField("notifier", "log")))
	}
	if cfg.Telegram.Enabled() {
		notifiers = append(notifiers, NewTelegramNotifier(cfg.Telegram, fetcher, log.WithField("notifier", "telegram")))
	} else if cfg.Telegram.Token != "" || len(cfg.Telegram.ChatIDs) > 0 {
		log.Debug("Telegram notifier needs both a token and chat IDs, skipping")
	}

	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	}
	return NewMultiNotifier(notifiers...)
}
