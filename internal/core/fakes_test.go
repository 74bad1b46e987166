package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gwi.com/repo-assistant/internal/ratelimit"
	"gwi.com/repo-assistant/internal/store"
)

const testDim = 4

type fakeEmbedder struct {
	mu    sync.Mutex
	texts []string
	embed func(text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.embed == nil {
		return []float32{1, 0, 0, 0}, nil
	}
	return f.embed(text)
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls [][]store.Message
	opts  []CompletionOptions
	reply func(messages []store.Message) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, messages []store.Message, opts CompletionOptions) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]store.Message(nil), messages...))
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.reply == nil {
		return "ok", nil
	}
	return f.reply(messages)
}

func (f *fakeCompleter) Calls() [][]store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]store.Message(nil), f.calls...)
}

func (f *fakeCompleter) LastUserContent() string {
	calls := f.Calls()
	if len(calls) == 0 {
		return ""
	}
	last := calls[len(calls)-1]
	return last[len(last)-1].Content
}

func newTestLimiter() *ratelimit.Limiter {
	return ratelimit.New("test", 1000, time.Second)
}

func newTestIndex(t *testing.T) *store.IndexStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewIndexStore(store.IndexStoreConfig{
		Dimension:    testDim,
		IndexPath:    filepath.Join(dir, "index.bin"),
		MetadataPath: filepath.Join(dir, "metadata.json"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func newTestGateway(t *testing.T, e Embedder) *EmbeddingGateway {
	t.Helper()
	return NewEmbeddingGateway(e, newTestLimiter(), testDim, zaptest.NewLogger(t))
}

func writeRepoFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var testCompletion = CompletionOptions{Temperature: 0.2, MaxTokens: 600}
