package log

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferEntry(level logrus.Level) (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(level)
	return logrus.NewEntry(logger), &buf
}

func TestBadgerLogrusAdapter_DemotesInfo(t *testing.T) {
	entry, buf := newBufferEntry(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(entry)

	adapter.Infof("compaction %d", 1)
	adapter.Debugf("replay")
	assert.Empty(t, buf.String(), "badger info/debug should not reach info level")

	adapter.Warningf("warning %d", 42)
	adapter.Errorf("error %s", "test")
	assert.Contains(t, buf.String(), "warning 42")
	assert.Contains(t, buf.String(), "error test")
}

func TestBadgerLogrusAdapter_InfoVisibleAtDebug(t *testing.T) {
	entry, buf := newBufferEntry(logrus.DebugLevel)
	NewBadgerLogrusAdapter(entry).Infof("value log %s", "replayed")
	assert.Contains(t, buf.String(), "value log replayed")
}

func TestSetup(t *testing.T) {
	t.Run("level parsed", func(t *testing.T) {
		log := Setup("debug", FormatText, io.Discard)
		assert.Equal(t, logrus.DebugLevel, log.GetLevel())
		assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		log := Setup("loud", FormatText, &buf)
		assert.Equal(t, logrus.InfoLevel, log.GetLevel())
		assert.Contains(t, buf.String(), "Invalid log level")
	})

	t.Run("json format with component", func(t *testing.T) {
		var buf bytes.Buffer
		log := Setup("info", "JSON", &buf)
		Component(log, "crawler").Info("hello")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "crawler", line["component"])
		assert.Equal(t, "hello", line["msg"])
	})
}
