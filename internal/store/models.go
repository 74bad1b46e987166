package store

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation or of a completion request.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// EmbeddingRecord is a chunk's vector together with its identity and text.
type EmbeddingRecord struct {
	Vector    []float32
	ChunkID   string
	ChunkText string
}

// ChunkMetadata is what the metadata document stores per index id.
type ChunkMetadata struct {
	FileChunkID string `json:"file_chunk_id"`
	ChunkText   string `json:"chunk_text"`
}

// metadataDocument is the on-disk JSON shape of the index metadata.
type metadataDocument struct {
	GlobalIDCounter int64                    `json:"global_id_counter"`
	MetadataStore   map[string]ChunkMetadata `json:"metadata_store"`
}
