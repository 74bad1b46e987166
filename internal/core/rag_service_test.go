package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gwi.com/repo-assistant/internal/metrics"
	"gwi.com/repo-assistant/internal/repo"
	"gwi.com/repo-assistant/internal/store"
)

type ragFixture struct {
	repoDir   string
	index     *store.IndexStore
	embedder  *fakeEmbedder
	completer *fakeCompleter
	svc       *RAGService
}

func newRAGFixture(t *testing.T, keepNearest bool) *ragFixture {
	t.Helper()
	f := &ragFixture{
		repoDir:   t.TempDir(),
		index:     newTestIndex(t),
		embedder:  &fakeEmbedder{},
		completer: &fakeCompleter{},
	}
	reviewer := NewReviewer(f.completer, testCompletion, zaptest.NewLogger(t))
	f.svc = NewRAGService(f.index, newTestGateway(t, f.embedder), f.completer, reviewer, RAGConfig{
		RepoDir:             f.repoDir,
		TopK:                DefaultTopK,
		SimilarityThreshold: DefaultSimilarityThreshold,
		KeepNearest:         keepNearest,
		SummarizeWordLimit:  DefaultSummarizeWordLimit,
		KeyFiles:            DefaultKeyFiles,
		Completion:          testCompletion,
	}, zaptest.NewLogger(t))
	return f
}

func (f *ragFixture) seedIndex(t *testing.T) {
	t.Helper()
	_, err := f.index.Add([]store.EmbeddingRecord{
		{Vector: []float32{1, 0, 0, 0}, ChunkID: "repo/near.py_chunk_0", ChunkText: "identical"},
		{Vector: []float32{0, 1, 0, 0}, ChunkID: "repo/far.py_chunk_0", ChunkText: "distant"},
		{Vector: []float32{1, 0.5, 0, 0}, ChunkID: "repo/close.py_chunk_0", ChunkText: "close"},
	})
	require.NoError(t, err)
}

func TestBuildContext_FileModeBypassesSemanticSearch(t *testing.T) {
	f := newRAGFixture(t, false)
	f.seedIndex(t)
	writeRepoFile(t, f.repoDir, "README.md", "# Demo")
	path := writeRepoFile(t, f.repoDir, "requests/Sessions.py", "class Session:\n    pass\n")

	rc, err := f.svc.BuildContext(context.Background(), "what can you tell me about the functions on sessions.py?", "")
	require.NoError(t, err)

	assert.Equal(t, ModeFile, rc.Mode)
	require.Len(t, rc.Blocks, 1)
	assert.Equal(t, fmt.Sprintf("**%s (full file)**:\nclass Session:\n    pass\n\n", path), rc.Blocks[0])
	assert.Zero(t, f.embedder.Calls(), "semantic retrieval must not run in file mode")
	assert.Empty(t, f.completer.Calls())
}

func TestBuildContext_FileModeSummarizesLongFiles(t *testing.T) {
	f := newRAGFixture(t, false)
	path := writeRepoFile(t, f.repoDir, "sessions.py", strings.Repeat("token ", DefaultSummarizeWordLimit+1))
	f.completer.reply = func(msgs []store.Message) (string, error) {
		if strings.Contains(msgs[len(msgs)-1].Content, summarizeQuestion) {
			return " condensed ", nil
		}
		return "answer", nil
	}

	rc, err := f.svc.BuildContext(context.Background(), "explain sessions.py", "")
	require.NoError(t, err)
	require.Len(t, rc.Blocks, 1)
	assert.Equal(t, fmt.Sprintf("**%s (full file)**:\ncondensed\n", path), rc.Blocks[0])
	assert.Len(t, f.completer.Calls(), 1)
	assert.Zero(t, f.embedder.Calls())
}

func TestBuildContext_ShortFileNotSummarized(t *testing.T) {
	f := newRAGFixture(t, false)
	writeRepoFile(t, f.repoDir, "sessions.py", strings.Repeat("token ", DefaultSummarizeWordLimit))

	_, err := f.svc.BuildContext(context.Background(), "explain sessions.py", "")
	require.NoError(t, err)
	assert.Empty(t, f.completer.Calls())
}

func TestBuildContext_DetectedFileOverridesFilter(t *testing.T) {
	f := newRAGFixture(t, false)
	writeRepoFile(t, f.repoDir, "README.md", "# Demo")
	path := writeRepoFile(t, f.repoDir, "sessions.py", "x = 1")

	rc, err := f.svc.BuildContext(context.Background(), "look at sessions.py", "README.md")
	require.NoError(t, err)
	require.Len(t, rc.Blocks, 1)
	assert.True(t, strings.HasPrefix(rc.Blocks[0], "**"+path))
}

func TestBuildContext_ExplicitFilter(t *testing.T) {
	f := newRAGFixture(t, false)
	path := writeRepoFile(t, f.repoDir, "setup.py", "setup()")

	rc, err := f.svc.BuildContext(context.Background(), "how is it packaged", "setup.py")
	require.NoError(t, err)
	assert.Equal(t, ModeFile, rc.Mode)
	assert.Equal(t, []string{fmt.Sprintf("**%s (full file)**:\nsetup()\n", path)}, rc.Blocks)

	rc, err = f.svc.BuildContext(context.Background(), "how is it packaged", "missing.cfg")
	require.NoError(t, err)
	assert.Equal(t, ModeFile, rc.Mode)
	assert.Empty(t, rc.Blocks)
	assert.Zero(t, f.embedder.Calls())
}

func TestBuildContext_UnknownFileNameFallsBackToSemantic(t *testing.T) {
	f := newRAGFixture(t, false)

	rc, err := f.svc.BuildContext(context.Background(), "what does missing.py do?", "")
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, rc.Mode)
	assert.Equal(t, 1, f.embedder.Calls())
}

func TestBuildContext_SemanticThresholdDropsNearCandidates(t *testing.T) {
	f := newRAGFixture(t, false)
	f.seedIndex(t)

	rc, err := f.svc.BuildContext(context.Background(), "What can you tell me about this full repository?", "")
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, rc.Mode)
	// Distances to the query are 0, 2 and 0.25; only 2 clears the 0.5 cutoff.
	assert.Equal(t, []string{"**repo/far.py_chunk_0**:\ndistant\n"}, rc.Blocks)
}

func TestBuildContext_KeepNearestInvertsThreshold(t *testing.T) {
	f := newRAGFixture(t, true)
	f.seedIndex(t)

	rc, err := f.svc.BuildContext(context.Background(), "What can you tell me about this full repository?", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"**repo/near.py_chunk_0**:\nidentical\n",
		"**repo/close.py_chunk_0**:\nclose\n",
	}, rc.Blocks)
}

func TestKeep_PolaritiesAreComplementary(t *testing.T) {
	literal := newRAGFixture(t, false).svc
	nearest := newRAGFixture(t, true).svc

	for _, d := range []float32{0, 0.25, DefaultSimilarityThreshold, 2} {
		assert.NotEqual(t, literal.keep(d), nearest.keep(d), "distance %v", d)
	}
	assert.True(t, literal.keep(DefaultSimilarityThreshold))
	assert.False(t, nearest.keep(DefaultSimilarityThreshold))
}

func TestAnswer_ContextErrorCountedUnderResolvedMode(t *testing.T) {
	f := newRAGFixture(t, false)
	writeRepoFile(t, f.repoDir, "pkg/blob.py", "\xff\xfe\x00")

	fileErrors := metrics.Queries.WithLabelValues(string(ModeFile), "error")
	semanticErrors := metrics.Queries.WithLabelValues(string(ModeSemantic), "error")
	fileBefore, semanticBefore := testutil.ToFloat64(fileErrors), testutil.ToFloat64(semanticErrors)

	_, err := f.svc.Answer(context.Background(), "what is in blob.py?", "")
	require.ErrorIs(t, err, repo.ErrNotText)
	assert.Equal(t, fileBefore+1, testutil.ToFloat64(fileErrors))
	assert.Equal(t, semanticBefore, testutil.ToFloat64(semanticErrors))

	f.embedder.embed = func(string) ([]float32, error) { return nil, errors.New("embedding down") }
	_, err = f.svc.Answer(context.Background(), "overview please", "")
	require.Error(t, err)
	assert.Equal(t, semanticBefore+1, testutil.ToFloat64(semanticErrors))
}

func TestBuildContext_SemanticAppendsKeyFiles(t *testing.T) {
	f := newRAGFixture(t, false)
	f.seedIndex(t)
	readme := writeRepoFile(t, f.repoDir, "README.md", "# Demo")
	reqs := writeRepoFile(t, f.repoDir, "requirements.txt", "requests")
	writeRepoFile(t, f.repoDir, "empty/setup.py", "")

	rc, err := f.svc.BuildContext(context.Background(), "overview please", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"**repo/far.py_chunk_0**:\ndistant\n",
		fmt.Sprintf("**%s (full file)**:\n# Demo\n", readme),
		fmt.Sprintf("**%s (full file)**:\nrequests\n", reqs),
	}, rc.Blocks)
}

func TestAnswer_EmptyIndexUsesKeyFilesOnly(t *testing.T) {
	f := newRAGFixture(t, false)
	readme := writeRepoFile(t, f.repoDir, "README.md", "# Demo")
	f.completer.reply = func([]store.Message) (string, error) { return "  A small demo project.  ", nil }

	query := "What can you tell me about this full repository?"
	out, err := f.svc.Answer(context.Background(), query, "")
	require.NoError(t, err)
	assert.Equal(t, "A small demo project.", out)

	calls := f.completer.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, store.Message{Role: store.RoleSystem, Content: "You are an expert code reviewer."}, calls[0][0])

	want := "You are an expert code reviewer. Based on the following repository context, " +
		"provide a comprehensive analysis covering the project's purpose, structure, dependencies, " +
		"and notable features.\n\nRetrieved Context:\n" +
		fmt.Sprintf("**%s (full file)**:\n# Demo\n", readme) +
		"\n\nQuestion: " + query + "\n\n" +
		"If the context is limited, please synthesize a complete overview from the available information."
	assert.Equal(t, store.RoleUser, calls[0][1].Role)
	assert.Equal(t, want, calls[0][1].Content)
	assert.Equal(t, testCompletion, f.completer.opts[0])
}

func TestAnswer_Errors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		f := newRAGFixture(t, false)
		_, err := f.svc.Answer(context.Background(), "   ", "")
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("embedding failure", func(t *testing.T) {
		f := newRAGFixture(t, false)
		boom := errors.New("embedding down")
		f.embedder.embed = func(string) ([]float32, error) { return nil, boom }
		_, err := f.svc.Answer(context.Background(), "overview", "")
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, f.completer.Calls())
	})

	t.Run("completion failure", func(t *testing.T) {
		f := newRAGFixture(t, false)
		boom := errors.New("completion down")
		f.completer.reply = func([]store.Message) (string, error) { return "", boom }
		_, err := f.svc.Answer(context.Background(), "overview", "")
		assert.ErrorIs(t, err, boom)
	})
}

func TestRetrievedContext_Text(t *testing.T) {
	rc := &RetrievedContext{Blocks: []string{"a\n", "b\n"}}
	assert.Equal(t, "a\n\nb\n", rc.Text())
	assert.Equal(t, "", (&RetrievedContext{}).Text())
}
