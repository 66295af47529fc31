package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	saved := current
	current.w = buf
	current.color = false
	current.closer = nil
	rebuild()
	mu.Unlock()
	savedLevel := Level(minLevel.Load())

	t.Cleanup(func() {
		mu.Lock()
		current = saved
		rebuild()
		mu.Unlock()
		setLevel(savedLevel)
	})
	return buf
}

// ============================================================================
// Level Filtering
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugShowsAll", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		for _, s := range []string{"DEBUG", "INFO", "WARN", "ERROR", "debug message", "error message"} {
			assert.Contains(t, out, s)
		}
	})

	t.Run("WarnFiltersLower", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("WARN")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("InvalidLevelIgnored", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("ERROR")
		SetLevel("chatty")

		Warn("still filtered")
		assert.Empty(t, buf.String())
	})
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
	assert.Equal(t, "UNKNOWN", Level(-1).String())
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, l)

	l, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, l)
}

func TestInitFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cifs.log")

	mu.Lock()
	saved := current
	mu.Unlock()
	savedLevel := Level(minLevel.Load())
	t.Cleanup(func() {
		mu.Lock()
		if current.closer != nil {
			_ = current.closer.Close()
		}
		current = saved
		rebuild()
		mu.Unlock()
		setLevel(savedLevel)
	})

	require.NoError(t, Init(Config{Level: "INFO", Format: "json", Output: path}))
	Info("to file", KeyServer, "fs:445")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"server":"fs:445"`)
}

func TestInitBadFile(t *testing.T) {
	err := Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

// ============================================================================
// Formats
// ============================================================================

func TestTextFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	Info("tree connected", KeyShare, `\\srv\public`, KeyTID, 7)

	out := buf.String()
	assert.Contains(t, out, "[INFO] tree connected")
	assert.Contains(t, out, `share=\\srv\public`)
	assert.Contains(t, out, "tid=7")
}

func TestTextFormatGroups(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	With("conn", 1).WithGroup("smb").Info("grouped", "mid", 3)
	assert.Contains(t, buf.String(), "conn=1")
	assert.Contains(t, buf.String(), "smb.mid=3")
	assert.NotContains(t, buf.String(), "smb.conn")
}

func TestTextFormatQuoting(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	Info("bind failed", KeyError, "logon failure", KeyUsername, "", slog.Group("auth", "method", "ntlmssp"))

	out := buf.String()
	assert.Contains(t, out, `error="logon failure"`)
	assert.Contains(t, out, `username=""`)
	assert.Contains(t, out, "auth.method=ntlmssp")
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("json")

	Info("negotiated", Dialect("NT LM 0.12"), Signing(true), Status(0xC000006D))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "negotiated", rec["msg"])
	assert.Equal(t, "NT LM 0.12", rec[KeyDialect])
	assert.Equal(t, true, rec[KeySigning])
	assert.Equal(t, "0xC000006D", rec[KeyStatus])
}

func TestFormatSwitching(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")

	SetFormat("json")
	Info("first")
	SetFormat("yaml")
	Info("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, json.Valid([]byte(lines[1])), "invalid format must be ignored")

	buf.Reset()
	SetFormat("text")
	Info("third")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

// ============================================================================
// Context
// ============================================================================

func TestContextLogging(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("DEBUG")
	SetFormat("json")

	lc := NewLogContext("10.0.0.5:445").
		WithSession("alice", 0x0800).
		WithShare(`\\fs\data`, 3).
		WithCommand("ECHO").
		WithOperation("bind")
	ctx := WithContext(context.Background(), lc)

	DebugCtx(ctx, "sent", KeyMID, 42)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "10.0.0.5:445", rec[KeyServer])
	assert.Equal(t, "ECHO", rec[KeyCommand])
	assert.Equal(t, `\\fs\data`, rec[KeyShare])
	assert.Equal(t, "alice", rec[KeyUsername])
	assert.EqualValues(t, 0x0800, rec[KeyUID])
	assert.EqualValues(t, 3, rec[KeyTID])
	assert.EqualValues(t, 42, rec[KeyMID])
	assert.Equal(t, "bind", rec[KeyOperation])
}

func TestContextLoggingWithoutLogContext(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("json")

	InfoCtx(context.Background(), "plain")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, rec, KeyServer)
}

func TestLogContext(t *testing.T) {
	t.Run("CloneIsIndependent", func(t *testing.T) {
		lc := NewLogContext("srv:445")
		c := lc.WithCommand("NEGOTIATE")
		assert.Empty(t, lc.Command)
		assert.Equal(t, "NEGOTIATE", c.Command)
		assert.Equal(t, "srv:445", c.Server)
	})

	t.Run("NilReceiver", func(t *testing.T) {
		var lc *LogContext
		assert.Nil(t, lc.Clone())
		assert.Nil(t, lc.WithTrace("a", "b"))
		assert.Zero(t, lc.DurationMs())
	})

	t.Run("FromNilContext", func(t *testing.T) {
		//nolint:staticcheck // exercising the nil guard
		assert.Nil(t, FromContext(nil))
	})
}

func TestErrField(t *testing.T) {
	assert.Equal(t, "", Err(nil).Value.String())
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
}

// ============================================================================
// Concurrency
// ============================================================================

func TestConcurrentLogging(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("tick", "worker", n)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 400)
}

func BenchmarkLogDisabled(b *testing.B) {
	SetLevel("ERROR")
	defer SetLevel("INFO")
	for i := 0; i < b.N; i++ {
		Debug("disabled", KeyMID, i)
	}
}
