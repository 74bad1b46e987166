package utils

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const DefaultChunkSize = 2000

// Chunker splits file text into fixed-size, order-preserving segments.
type Chunker struct {
	size   int
	logger *zap.Logger
}

func NewChunker(size int, logger *zap.Logger) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{size: size, logger: logger}
}

func (c *Chunker) Size() int { return c.size }

// Split returns contiguous, non-overlapping pieces of at most Size characters.
// Only the last piece may be shorter. Text that is not valid UTF-8 is
// rejected with an empty result.
func (c *Chunker) Split(text string) []string {
	if !utf8.ValidString(text) {
		c.logger.Error("Error chunking text: expected valid UTF-8 text", zap.Int("bytes", len(text)))
		return []string{}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/c.size+1)
	start, count := 0, 0
	for i := range text {
		if count == c.size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}

	c.logger.Debug("Generated chunks", zap.Int("chunks", len(chunks)), zap.Int("length", len(text)))
	return chunks
}

// ChunkID is the identity of the i-th chunk of source.
func ChunkID(source string, i int) string {
	return source + "_chunk_" + strconv.Itoa(i)
}

var chunkIDPattern = regexp.MustCompile(`^(.*)_chunk_\d+$`)

// SourceOfChunk recovers the source identifier from a chunk id. Ids that do
// not follow the ChunkID shape are returned unchanged.
func SourceOfChunk(chunkID string) string {
	if m := chunkIDPattern.FindStringSubmatch(chunkID); m != nil {
		return m[1]
	}
	return chunkID
}

var fileNamePattern = regexp.MustCompile(`([A-Za-z0-9_.\-]+\.\w+)`)

// DetectFileName returns the first token in query shaped like name.extension,
// lowercased.
func DetectFileName(query string) (string, bool) {
	m := fileNamePattern.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
