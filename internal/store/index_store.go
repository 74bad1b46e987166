package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"gwi.com/repo-assistant/internal/index"
	"gwi.com/repo-assistant/internal/metrics"
	"gwi.com/repo-assistant/internal/utils"
)

type IndexStoreConfig struct {
	Dimension    int
	IndexPath    string
	MetadataPath string
}

// IndexStore owns the similarity index, the id -> chunk metadata mapping and
// the id counter. Id n always names the n-th vector of the index; every
// mutation holds mu so the two never drift apart in memory.
type IndexStore struct {
	mu       sync.RWMutex
	cfg      IndexStoreConfig
	index    *index.Flat
	metadata map[int64]ChunkMetadata
	nextID   int64
	logger   *zap.Logger
}

// NewIndexStore loads the persisted index and metadata when both files are
// present and consistent; otherwise it starts empty.
func NewIndexStore(cfg IndexStoreConfig, logger *zap.Logger) (*IndexStore, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", cfg.Dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &IndexStore{
		cfg:      cfg,
		index:    index.NewFlat(cfg.Dimension),
		metadata: make(map[int64]ChunkMetadata),
		logger:   logger,
	}
	s.load()
	return s, nil
}

func (s *IndexStore) load() {
	idx, err := index.ReadFile(s.cfg.IndexPath)
	switch {
	case err == nil && idx.Dimension() != s.cfg.Dimension:
		s.logger.Error("Persisted index has a different dimension, starting with an empty index",
			zap.String("path", s.cfg.IndexPath), zap.Int("persisted", idx.Dimension()), zap.Int("configured", s.cfg.Dimension))
		return
	case err == nil:
		s.index = idx
		s.logger.Info("Loaded similarity index", zap.String("path", s.cfg.IndexPath), zap.Int("vectors", idx.Len()))
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("Created new similarity index", zap.Int("dimension", s.cfg.Dimension))
	default:
		s.logger.Error("Error loading similarity index, starting empty", zap.String("path", s.cfg.IndexPath), zap.Error(err))
	}

	doc, err := readMetadata(s.cfg.MetadataPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Error loading metadata", zap.String("path", s.cfg.MetadataPath), zap.Error(err))
		}
		s.checkConsistency()
		return
	}
	for k, v := range doc.MetadataStore {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			s.logger.Warn("Skipping metadata entry with non-integer id", zap.String("id", k))
			continue
		}
		s.metadata[id] = v
	}
	s.nextID = doc.GlobalIDCounter
	s.logger.Info("Loaded metadata", zap.String("path", s.cfg.MetadataPath), zap.Int64("global_id_counter", s.nextID))
	s.checkConsistency()
}

// checkConsistency drops the loaded state when the counter or any metadata id
// disagrees with the number of vectors in the index. Such a pair is left
// behind by a crash between the two writes in persist.
func (s *IndexStore) checkConsistency() {
	n := int64(s.index.Len())
	consistent := s.nextID == n
	for id := range s.metadata {
		if id < 0 || id >= n {
			consistent = false
			break
		}
	}
	if consistent {
		return
	}
	s.logger.Error("Index and metadata are inconsistent, discarding both",
		zap.Int64("vectors", n), zap.Int64("global_id_counter", s.nextID), zap.Int("metadata_entries", len(s.metadata)))
	s.resetLocked()
}

// Add validates and inserts a batch. Records whose vector length differs from
// the configured dimension are logged and skipped. Remaining records get
// consecutive ids in slice order; the index and metadata are then persisted.
// It returns the number of records inserted. If persisting fails the batch
// is rolled back and nothing is inserted.
func (s *IndexStore) Add(records []EmbeddingRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := make([]EmbeddingRecord, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != s.cfg.Dimension {
			s.logger.Error("Embedding dimension mismatch",
				zap.String("file_chunk_id", r.ChunkID), zap.Int("expected", s.cfg.Dimension), zap.Int("got", len(r.Vector)))
			metrics.VectorsRejected.Inc()
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		s.logger.Warn("No new vectors to store")
		return 0, nil
	}

	vectors := make([][]float32, len(valid))
	for i, r := range valid {
		vectors[i] = r.Vector
	}
	prevLen, prevNextID := s.index.Len(), s.nextID
	if err := s.index.Add(vectors); err != nil {
		return 0, fmt.Errorf("failed to add vectors to index: %w", err)
	}
	for _, r := range valid {
		s.metadata[s.nextID] = ChunkMetadata{FileChunkID: r.ChunkID, ChunkText: r.ChunkText}
		s.nextID++
	}

	if err := s.persistLocked(); err != nil {
		s.rollbackLocked(prevLen, prevNextID)
		return 0, err
	}
	metrics.VectorsStored.Add(float64(len(valid)))
	s.logger.Info("Stored embeddings in index", zap.Int("count", len(valid)), zap.Int64("global_id_counter", s.nextID))
	return len(valid), nil
}

// rollbackLocked undoes a batch whose persistence failed, then rewrites the
// index file so the pair on disk matches the restored state again.
func (s *IndexStore) rollbackLocked(indexLen int, nextID int64) {
	s.index.Truncate(indexLen)
	for id := nextID; id < s.nextID; id++ {
		delete(s.metadata, id)
	}
	s.nextID = nextID

	if err := s.index.WriteFile(s.cfg.IndexPath); err != nil {
		s.logger.Error("Failed to restore index file after rollback", zap.String("path", s.cfg.IndexPath), zap.Error(err))
	}
}

// Search returns up to k nearest ids with their squared L2 distances.
// Unfilled slots carry index.NotFound.
func (s *IndexStore) Search(query []float32, k int) ([]int64, []float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Search(query, k)
}

func (s *IndexStore) Lookup(id int64) (ChunkMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metadata[id]
	return m, ok
}

// Reset empties the in-memory state. Persisted files are left alone.
func (s *IndexStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.logger.Info("Cleared in-memory index state")
}

// Purge deletes the persisted index and metadata files, then resets.
func (s *IndexStore) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{s.cfg.IndexPath, s.cfg.MetadataPath} {
		removed, err := utils.RemoveIfExists(path)
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		if removed {
			s.logger.Info("Removed persisted index file", zap.String("path", path))
		}
	}
	s.resetLocked()
	return nil
}

func (s *IndexStore) resetLocked() {
	s.index = index.NewFlat(s.cfg.Dimension)
	s.metadata = make(map[int64]ChunkMetadata)
	s.nextID = 0
}

// Count is the number of vectors in the index.
func (s *IndexStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// NextID is the id the next inserted vector will receive.
func (s *IndexStore) NextID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

func (s *IndexStore) Dimension() int { return s.cfg.Dimension }

// SourceFiles lists the distinct sources that have chunks in the index, sorted.
func (s *IndexStore) SourceFiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, m := range s.metadata {
		seen[utils.SourceOfChunk(m.FileChunkID)] = struct{}{}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// persistLocked writes the index first and the metadata second, each through
// a temp file and rename.
func (s *IndexStore) persistLocked() error {
	if err := s.index.WriteFile(s.cfg.IndexPath); err != nil {
		return fmt.Errorf("failed to save index to %s: %w", s.cfg.IndexPath, err)
	}
	s.logger.Debug("Index saved", zap.String("path", s.cfg.IndexPath))

	doc := metadataDocument{
		GlobalIDCounter: s.nextID,
		MetadataStore:   make(map[string]ChunkMetadata, len(s.metadata)),
	}
	for id, m := range s.metadata {
		doc.MetadataStore[strconv.FormatInt(id, 10)] = m
	}
	err := utils.WriteFileAtomic(s.cfg.MetadataPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	})
	if err != nil {
		return fmt.Errorf("failed to save metadata to %s: %w", s.cfg.MetadataPath, err)
	}
	s.logger.Debug("Metadata saved", zap.String("path", s.cfg.MetadataPath))
	return nil
}

func readMetadata(path string) (*metadataDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc metadataDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &doc, nil
}
