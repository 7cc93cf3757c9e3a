package store

import "encoding/json"

// Item is anything a KeyedMap can hold: something able to report the key it
// is stored under, so the map can serialize as a flat JSON array with the
// key embedded in every element instead of as a JSON object keyed by a
// possibly non-string type.
type Item[K comparable] interface {
	Key() K
}

// KeyedMap wraps a plain Go map but (de)serializes as a JSON array of items,
// mirroring the data/map.rs abstraction the persisted state format is
// grounded on: every entity already carries its own key field, so there is
// no need for a second, redundant JSON object key.
type KeyedMap[K comparable, T Item[K]] struct {
	items map[K]T
}

// NewKeyedMap returns an empty map.
func NewKeyedMap[K comparable, T Item[K]]() *KeyedMap[K, T] {
	return &KeyedMap[K, T]{items: make(map[K]T)}
}

// Get returns the item stored under key, if any.
func (m *KeyedMap[K, T]) Get(key K) (T, bool) {
	v, ok := m.items[key]
	return v, ok
}

// Insert stores item under its own key, overwriting any previous value.
func (m *KeyedMap[K, T]) Insert(item T) {
	if m.items == nil {
		m.items = make(map[K]T)
	}
	m.items[item.Key()] = item
}

// GetOrInsertWith returns the existing item for key, or calls insert to
// produce and store one if absent, returning it.
func (m *KeyedMap[K, T]) GetOrInsertWith(key K, insert func() T) T {
	if v, ok := m.items[key]; ok {
		return v
	}
	item := insert()
	m.Insert(item)
	return item
}

// Delete removes key, if present.
func (m *KeyedMap[K, T]) Delete(key K) {
	delete(m.items, key)
}

// Len returns the number of stored items.
func (m *KeyedMap[K, T]) Len() int {
	return len(m.items)
}

// Range calls fn for every stored item, in unspecified order. Range must not
// be used to mutate the map; use Insert/Delete for that.
func (m *KeyedMap[K, T]) Range(fn func(T) bool) {
	for _, v := range m.items {
		if !fn(v) {
			return
		}
	}
}

// MarshalJSON renders the map as a flat array of its items.
func (m *KeyedMap[K, T]) MarshalJSON() ([]byte, error) {
	items := make([]T, 0, len(m.items))
	for _, v := range m.items {
		items = append(items, v)
	}
	return json.Marshal(items)
}

// UnmarshalJSON parses an array of items, keying each by its own Key().
func (m *KeyedMap[K, T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	m.items = make(map[K]T, len(items))
	for _, item := range items {
		m.items[item.Key()] = item
	}
	return nil
}
