// Package catalog keeps the ordered list of recordings.
//
// The whole sequence is stored as one JSON array under a single key and is
// rewritten on every mutation. Insertion order is chronological order, so the
// latest recording is always the last element. Mutations are serialized
// within one Catalog value; two processes sharing the same store can still
// lose an update (last writer wins).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fmueller/voxnote/internal/kvstore"
	"github.com/google/uuid"
)

const DefaultKey = "@recordings"

var (
	ErrPersistence = errors.New("catalog persistence failed")
	ErrDuplicateID = errors.New("recording id already exists")
	ErrNotFound    = errors.New("recording not found")
)

// Record is one persisted voice note.
type Record struct {
	ID         string    `json:"id"`
	URI        string    `json:"uri"`
	CreatedAt  time.Time `json:"date"`
	Transcript string    `json:"transcript,omitempty"`
}

// NewRecord builds a record created at createdAt, normalized to UTC. An empty
// id gets a fresh uuid.
func NewRecord(id, uri string, createdAt time.Time) Record {
	if id == "" {
		id = uuid.NewString()
	}
	return Record{
		ID:        id,
		URI:       uri,
		CreatedAt: createdAt.UTC(),
	}
}

type Catalog struct {
	store kvstore.Store
	key   string
	mu    sync.Mutex
}

func New(store kvstore.Store, key string) *Catalog {
	if key == "" {
		key = DefaultKey
	}
	return &Catalog{store: store, key: key}
}

func (c *Catalog) Key() string {
	return c.key
}

// List returns an empty slice when nothing has been stored yet.
func (c *Catalog) List(ctx context.Context) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *Catalog) Latest(ctx context.Context) (Record, bool, error) {
	records, err := c.List(ctx)
	if err != nil || len(records) == 0 {
		return Record{}, false, err
	}
	return records[len(records)-1], true, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (Record, bool, error) {
	records, err := c.List(ctx)
	if err != nil {
		return Record{}, false, err
	}
	if i := indexOf(records, id); i >= 0 {
		return records[i], true, nil
	}
	return Record{}, false, nil
}

func (c *Catalog) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load(ctx)
	if err != nil {
		return err
	}
	if indexOf(records, rec.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	return c.save(ctx, append(records, rec))
}

// Remove writes back the sequence without id. Unknown ids are not an error.
// The audio asset is left alone.
func (c *Catalog) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load(ctx)
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	return c.save(ctx, kept)
}

func (c *Catalog) SetTranscript(ctx context.Context, id, transcript string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load(ctx)
	if err != nil {
		return err
	}

	i := indexOf(records, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	records[i].Transcript = transcript
	return c.save(ctx, records)
}

// Reset drops the stored sequence entirely.
func (c *Catalog) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Remove(ctx, c.key); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (c *Catalog) load(ctx context.Context) ([]Record, error) {
	records, ok, err := kvstore.GetJSON[[]Record](ctx, c.store, c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, c.key, err)
	}
	if !ok || records == nil {
		return []Record{}, nil
	}
	return records, nil
}

func (c *Catalog) save(ctx context.Context, records []Record) error {
	if err := kvstore.SetJSON(ctx, c.store, c.key, records); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, c.key, err)
	}
	return nil
}

func indexOf(records []Record, id string) int {
	for i, rec := range records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}
