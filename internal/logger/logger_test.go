package logger

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// capture enables verbose output into a buffer until the test ends.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestSetVerbose(t *testing.T) {
	defer SetVerbose(false)

	SetVerbose(false)
	assert.False(t, IsVerbose())
	SetVerbose(true)
	assert.True(t, IsVerbose())
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name string
		log  func()
		want string
	}{
		{"debug", func() { Debug("routing %s", "products") }, "[DEBUG] routing products\n"},
		{"info", func() { Info("indexed %d chunks", 4) }, "[INFO] indexed 4 chunks\n"},
		{"warn", func() { Warn("answer withheld") }, "[WARN] answer withheld\n"},
		{"section", func() { Section("compliance checking") }, "\n=== compliance checking ===\n"},
		{"scoped", func() { With("session", "s1").With("stage", "routing").Info("matched %d rules", 2) },
			"[INFO] session=s1 stage=routing matched 2 rules\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			tt.log()
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestQuietByDefault(t *testing.T) {
	buf := capture(t)
	SetVerbose(false)

	Debug("hidden")
	Warn("hidden")
	Section("hidden")
	With("session", "s1").Info("hidden")

	assert.Empty(t, buf.String())
}

func TestElapsed(t *testing.T) {
	buf := capture(t)

	Elapsed(time.Now().Add(-1500*time.Millisecond), "ingested %s", "doc-1")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "[DEBUG] ingested doc-1 (took 1.5"), out)
	assert.True(t, strings.HasSuffix(out, "s)\n"), out)
}

func TestScopedDoesNotShareState(t *testing.T) {
	buf := capture(t)
	base := With("session", "s1")

	base.With("doc", "a").Debug("x")
	base.Debug("y")

	assert.Equal(t, "[DEBUG] session=s1 doc=a x\n[DEBUG] session=s1 y\n", buf.String())
}

func TestConcurrentWrites(t *testing.T) {
	buf := capture(t)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			With("worker", "w").Debug("line %d", i)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, strings.Count(buf.String(), "\n"))
}
