package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

// Overlay buffers writes on top of a Database. Reads see buffered values
// first; nothing reaches the parent until Commit writes the buffer as one
// batch. An Overlay is not safe for concurrent use.
type Overlay struct {
	parent Database
	dirty  map[string][]byte
	// deleted keys are tracked separately so a buffered delete hides the
	// parent's value.
	deleted map[string]struct{}
}

// NewOverlay creates an empty overlay over parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{
		parent:  parent,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Get returns the buffered value for key, falling back to the parent.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := o.deleted[k]; gone {
		return nil, fmt.Errorf("%w: %x", ErrNotFound, key)
	}
	if value, ok := o.dirty[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.parent.Get(key)
}

// Has reports whether key is visible through the overlay.
func (o *Overlay) Has(key []byte) (bool, error) {
	_, err := o.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put buffers a write.
func (o *Overlay) Put(key, value []byte) error {
	k := string(key)
	delete(o.deleted, k)
	o.dirty[k] = append([]byte(nil), value...)
	return nil
}

// Delete buffers a removal.
func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.dirty, k)
	o.deleted[k] = struct{}{}
	return nil
}

// Iterate merges buffered and parent keys under prefix in ascending order.
func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	merged := make(map[string][]byte)
	err := o.parent.Iterate(prefix, func(key, value []byte) (bool, error) {
		merged[string(key)] = value
		return true, nil
	})
	if err != nil {
		return err
	}
	for k, v := range o.dirty {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	for k := range o.deleted {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		next, err := fn([]byte(k), append([]byte(nil), merged[k]...))
		if err != nil {
			return err
		}
		if !next {
			return nil
		}
	}
	return nil
}

// Len returns the number of buffered mutations.
func (o *Overlay) Len() int { return len(o.dirty) + len(o.deleted) }

// Commit flushes every buffered mutation to the parent in one batch and
// resets the overlay.
func (o *Overlay) Commit() error {
	if o.Len() == 0 {
		return nil
	}
	batch := o.parent.NewBatch()
	for k := range o.deleted {
		batch.Delete([]byte(k))
	}
	for k, v := range o.dirty {
		batch.Put([]byte(k), v)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops every buffered mutation.
func (o *Overlay) Discard() {
	o.dirty = make(map[string][]byte)
	o.deleted = make(map[string]struct{})
}
