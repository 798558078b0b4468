// Package datasource is a read-only projection of the credential store for
// presentation: an ordered item list plus attributes fetched on demand.
package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/sensiblebit/keyshare/internal/certstore"
)

// Store is the read side of the credential store.
type Store interface {
	Enumerate(ctx context.Context, class certstore.Class) ([]certstore.Item, error)
	Attributes(ctx context.Context, item certstore.Item) (map[string]string, error)
}

// DataSource holds the item list from the latest Refresh. Indexes are only
// meaningful until the next Refresh.
type DataSource struct {
	store Store

	mu    sync.RWMutex
	class certstore.Class
	items []certstore.Item
}

// New returns an empty DataSource over store.
func New(store Store) *DataSource {
	return &DataSource{store: store, class: certstore.ClassIdentity}
}

// Refresh re-enumerates the store and replaces the item list. On error the
// previous list is kept.
func (d *DataSource) Refresh(ctx context.Context, class certstore.Class) error {
	items, err := d.store.Enumerate(ctx, class)
	if err != nil {
		return fmt.Errorf("refreshing %s items: %w", class, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.class = class
	d.items = items
	return nil
}

// Class returns the filter of the latest Refresh.
func (d *DataSource) Class() certstore.Class {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.class
}

// Len returns the number of items.
func (d *DataSource) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

// Items returns a copy of the item list in store enumeration order.
func (d *DataSource) Items() []certstore.Item {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]certstore.Item, len(d.items))
	copy(out, d.items)
	return out
}

// Item returns the item at index.
func (d *DataSource) Item(index int) (certstore.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.items) {
		return certstore.Item{}, fmt.Errorf("index %d out of range [0, %d)", index, len(d.items))
	}
	return d.items[index], nil
}

// AttributesFor fetches the attributes of the item at index from the store.
// Nothing is cached.
func (d *DataSource) AttributesFor(ctx context.Context, index int) (map[string]string, error) {
	item, err := d.Item(index)
	if err != nil {
		return nil, err
	}
	attrs, err := d.store.Attributes(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("attributes for %s %q: %w", item.Class, item.Label, err)
	}
	return attrs, nil
}
