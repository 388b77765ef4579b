package cachestore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout inside the LevelDB file:
//
//	n:<namespace>                 namespace marker
//	e:<namespace>\x00<identity>   gob-encoded Entry
//
// The \x00 separator cannot occur in a namespace name or a request identity.
const (
	nsMarkerPrefix = "n:"
	entryPrefix    = "e:"
	keySep         = "\x00"
)

// LevelStore is a persistent Store backed by a single LevelDB file, fronted
// by an in-process hot layer so repeat lookups skip disk entirely.
type LevelStore struct {
	db  *leveldb.DB
	hot *gocache.Cache
}

// OpenLevelStore opens (creating if needed) the LevelDB file at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache store %s: %w", path, err)
	}
	return &LevelStore{
		db:  db,
		hot: gocache.New(gocache.NoExpiration, 0),
	}, nil
}

func (s *LevelStore) Open(name string) (Namespace, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := s.db.Put([]byte(nsMarkerPrefix+name), []byte{1}, nil); err != nil {
		return nil, fmt.Errorf("create namespace %s: %w", name, err)
	}
	return &levelNamespace{store: s, name: name}, nil
}

func (s *LevelStore) Namespaces() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(nsMarkerPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte(nsMarkerPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("enumerate namespaces: %w", err)
	}
	return names, nil
}

func (s *LevelStore) Drop(name string) (bool, error) {
	has, err := s.db.Has([]byte(nsMarkerPrefix+name), nil)
	if err != nil {
		return false, fmt.Errorf("drop namespace %s: %w", name, err)
	}
	if !has {
		return false, nil
	}

	batch := new(leveldb.Batch)
	batch.Delete([]byte(nsMarkerPrefix + name))

	prefix := []byte(entryPrefix + name + keySep)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	itErr := it.Error()
	it.Release()
	if itErr != nil {
		return false, fmt.Errorf("drop namespace %s: %w", name, itErr)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("drop namespace %s: %w", name, err)
	}

	// Evict hot-layer entries belonging to the dropped namespace.
	hotPrefix := name + keySep
	for k := range s.hot.Items() {
		if strings.HasPrefix(k, hotPrefix) {
			s.hot.Delete(k)
		}
	}
	return true, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, keySep) {
		return fmt.Errorf("invalid namespace name %q", name)
	}
	return nil
}

type levelNamespace struct {
	store *LevelStore
	name  string
}

func (n *levelNamespace) Name() string { return n.name }

func (n *levelNamespace) entryKey(identity string) []byte {
	return []byte(entryPrefix + n.name + keySep + identity)
}

func (n *levelNamespace) hotKey(identity string) string {
	return n.name + keySep + identity
}

func (n *levelNamespace) Match(identity string) (Entry, bool) {
	if v, ok := n.store.hot.Get(n.hotKey(identity)); ok {
		if ent, ok := v.(Entry); ok {
			return ent, true
		}
	}
	b, err := n.store.db.Get(n.entryKey(identity), nil)
	if err != nil {
		return Entry{}, false
	}
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, false
	}
	n.store.hot.Set(n.hotKey(identity), ent, gocache.NoExpiration)
	return ent, true
}

func (n *levelNamespace) Put(identity string, ent Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := n.store.db.Put(n.entryKey(identity), b, nil); err != nil {
		return fmt.Errorf("put %s: %w", identity, err)
	}
	n.store.hot.Set(n.hotKey(identity), ent, gocache.NoExpiration)
	return nil
}

func (n *levelNamespace) Delete(identity string) error {
	n.store.hot.Delete(n.hotKey(identity))
	if err := n.store.db.Delete(n.entryKey(identity), nil); err != nil {
		return fmt.Errorf("delete %s: %w", identity, err)
	}
	return nil
}

func (n *levelNamespace) Keys() ([]string, error) {
	prefix := []byte(entryPrefix + n.name + keySep)
	it := n.store.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("keys %s: %w", n.name, err)
	}
	return keys, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
