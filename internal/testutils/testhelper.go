package testutils

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattsrv/pkg/transport"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a logger that is silent unless tests run with -v.
// Connection goroutines may log after the test returns, so the logger never writes
// through t.Log.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(io.Discard)
	if testing.Verbose() {
		logger.SetOutput(os.Stderr)
	}
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Connect returns the server end of a new in-memory bearer and a Central driving the
// other end. The central is closed when the test ends.
func (h *TestHelper) Connect() (transport.Conn, *Central) {
	server, client := transport.Pipe()
	central := NewCentral(h.T, client)
	h.T.Cleanup(func() { _ = central.Close() })
	return server, central
}
