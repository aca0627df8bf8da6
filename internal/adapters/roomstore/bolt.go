package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var roomsBucket = []byte("rooms")

// Bolt keeps rooms as JSON values keyed by room code in a single file.
type Bolt struct {
	db *bolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("roomstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Put(r domain.Room) error {
	enc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(roomsBucket).Put([]byte(r.ID), enc)
	})
}

func (b *Bolt) LookupRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	var room *domain.Room
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(roomsBucket).Get([]byte(id))
		if v == nil {
			return core.ErrRoomNotFound
		}
		var r domain.Room
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("roomstore: decode room %s: %w", id, err)
		}
		room = &r
		return nil
	})
	return room, err
}

func (b *Bolt) Close() error { return b.db.Close() }
