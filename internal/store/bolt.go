package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var bucketConversations = []byte("conversations")

// BoltConversationStore keeps each conversation in its own nested bucket,
// keyed by a big-endian sequence number so a cursor walks messages in order.
type BoltConversationStore struct {
	db *bbolt.DB
}

func NewBoltConversationStore(path string) (*BoltConversationStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConversations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create conversations bucket: %w", err)
	}
	return &BoltConversationStore{db: db}, nil
}

func (s *BoltConversationStore) Close() error {
	return s.db.Close()
}

func (s *BoltConversationStore) Create() (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.Bucket(bucketConversations).CreateBucket([]byte(id))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil
}

func (s *BoltConversationStore) Append(conversationID, role, content string) error {
	data, err := json.Marshal(Message{Role: role, Content: content, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketConversations).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return fmt.Errorf("failed to ensure conversation: %w", err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

func (s *BoltConversationStore) Get(conversationID string) ([]Message, error) {
	messages := []Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations).Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("failed to decode message: %w", err)
			}
			messages = append(messages, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *BoltConversationStore) Delete(conversationID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketConversations).DeleteBucket([]byte(conversationID))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
