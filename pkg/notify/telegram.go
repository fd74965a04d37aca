package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/config"
	"github.com/Sriram-PR/sitemap-watcher/pkg/fetch"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// TelegramMessageLimit is the Bot API's maximum text length
const TelegramMessageLimit = 4096

// TelegramNotifier sends new entries to every configured chat via the Bot API sendMessage method
type TelegramNotifier struct {
	cfg     config.TelegramConfig
	fetcher *fetch.Fetcher
	log     *logrus.Entry
}

// NewTelegramNotifier creates a TelegramNotifier; requests go through fetcher's retry policy
func NewTelegramNotifier(cfg config.TelegramConfig, fetcher *fetch.Fetcher, log *logrus.Entry) *TelegramNotifier {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &TelegramNotifier{cfg: cfg, fetcher: fetcher, log: log}
}

func (n *TelegramNotifier) NotifyNewEntries(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if !n.cfg.Enabled() {
		n.log.Debug("Telegram not configured, skipping notification")
		return nil
	}

	messages := FormatMessages(entries, TelegramMessageLimit)
	var errs []error
	for _, chatID := range n.cfg.ChatIDs {
		for _, text := range messages {
			if err := n.send(ctx, chatID, text); err != nil {
				n.log.WithField("chat_id", chatID).Errorf("Telegram delivery failed: %v", err)
				errs = append(errs, fmt.Errorf("chat %s: %w", chatID, err))
				break
			}
		}
	}
	if len(errs) > 0 {
		return &utils.NotifyError{Notifier: "telegram", Err: errors.Join(errs...)}
	}
	n.log.WithFields(logrus.Fields{"chats": len(n.cfg.ChatIDs), "messages": len(messages), "entries": len(entries)}).Info("Telegram notification sent")
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, chatID, text string) error {
	query := url.Values{}
	query.Set("chat_id", chatID)
	query.Set("text", text)
	endpoint := n.cfg.APIBase + "/bot" + n.cfg.Token + "/sendMessage?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrRequestCreation, redactErr(err, n.cfg.Token))
	}
	resp, err := n.fetcher.FetchWithRetry(ctx, req)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		return redactErr(err, n.cfg.Token)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", utils.ErrOtherHTTPError, resp.StatusCode)
	}
	return nil
}

// redactedError hides the bot token from the message but keeps the chain
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redactErr keeps the bot token out of logged URLs
func redactErr(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}
