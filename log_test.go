package main

import (
	"bytes"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := newLoggerTo(&buf, true, false)
	log.debug("hidden")
	log.infof("phase %s", PhasePublic)
	log.with("run", "r-1").warn("careful")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "phase public")
	require.Contains(t, out, "careful")
	require.Contains(t, out, "run=r-1")

	buf.Reset()
	newLoggerTo(&buf, true, true).debugf("attempt %d", 2)
	require.Contains(t, buf.String(), "attempt 2")
}

func TestRetryLogger(t *testing.T) {
	var buf bytes.Buffer
	rl := retryLogger{newLoggerTo(&buf, true, false)}
	u, err := url.Parse("http://mint.example/phase")
	require.NoError(t, err)

	rl.Debug("performing request", "url", u)
	require.Empty(t, buf.String())

	rl.Error("request failed", "error", errors.New("connection reset"), "url", u)
	out := buf.String()
	require.Contains(t, out, "WRN")
	require.Contains(t, out, "request failed")
	require.Contains(t, out, "url=http://mint.example/phase")
	require.Contains(t, out, "connection reset")
}
