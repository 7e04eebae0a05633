package temporal

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	qt "github.com/frankban/quicktest"

	"github.com/pdfbot/slack-pdf-backend/config"
)

func TestZapAdapter(t *testing.T) {
	c := qt.New(t)

	zCore, zLogs := observer.New(zap.DebugLevel)
	adapter := NewZapAdapter(zap.New(zCore))

	adapter.With("Namespace", "default").Info("Started Worker", "TaskQueue", "slack-pdf-ingest")
	adapter.Warn("odd", "lonely")
	adapter.Debug("polling")
	adapter.Error("failed", "Error", "boom")

	c.Assert(zLogs.Len(), qt.Equals, 4)

	entries := zLogs.AllUntimed()
	c.Check(entries[0].Level, qt.Equals, zapcore.InfoLevel)
	c.Check(entries[0].ContextMap(), qt.DeepEquals, map[string]any{
		"Namespace": "default",
		"TaskQueue": "slack-pdf-ingest",
	})
	c.Check(entries[1].ContextMap()["error"], qt.Matches, "odd number of keyvals pairs.*")
	c.Check(entries[2].Level, qt.Equals, zapcore.DebugLevel)
	c.Check(entries[3].Level, qt.Equals, zapcore.ErrorLevel)
}

func TestClientOptions(t *testing.T) {
	c := qt.New(t)

	opts, err := ClientOptions(config.TemporalConfig{HostPort: "temporal:7233", Namespace: "ingest"}, zap.NewNop())
	c.Assert(err, qt.IsNil)
	c.Check(opts.HostPort, qt.Equals, "temporal:7233")
	c.Check(opts.Namespace, qt.Equals, "ingest")
	c.Check(opts.ConnectionOptions.TLS, qt.IsNil)
	c.Check(opts.Logger, qt.Not(qt.IsNil))

	_, err = ClientOptions(config.TemporalConfig{HostPort: "temporal:7233", Cert: "missing.pem", Key: "missing.key"}, zap.NewNop())
	c.Check(err, qt.ErrorMatches, "loading Temporal client certificate.*")
}
