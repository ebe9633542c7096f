// Package schema implements the metadata cache: space and index names
// resolved to the numeric ids every CRUD request needs, populated by
// scanning the well-known system spaces and swapped in as an immutable
// snapshot.
//
// A fresh scan is built off to the side and published with a single
// atomic pointer swap, so concurrent readers always see a complete,
// consistent snapshot and never a partially-populated one. Refresh is
// rate-limited so concurrent callers racing to resolve a miss collapse
// into a single rescan.
package schema

import (
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"dbwire/codec"
	"dbwire/dberr"
)

// System space ids the cache bootstraps itself from.
const (
	VSpaceID = 281
	VIndexID = 289
)

// Space is a parsed _vspace tuple.
type Space struct {
	ID     uint32
	Name   string
	Engine string
	Fields []FieldFormat
}

// FieldFormat describes one entry in a space's field-format.
type FieldFormat struct {
	Name     string
	Type     string
	Nullable bool
}

// Index is a parsed _vindex tuple.
type Index struct {
	SpaceID uint32
	IndexID uint32
	Name    string
	Type    string
	Unique  bool
	Parts   []IndexPart
}

// IndexPart describes one field an index is built over.
type IndexPart struct {
	FieldNo int
	Type    string
}

type indexKey struct {
	spaceID uint32
	ref     any // either uint32 index-id or string index-name
}

// snapshot is the immutable published view of the cache. Refresh is
// atomic from the caller's perspective: readers only ever observe a
// fully-built snapshot.
type snapshot struct {
	spaceByName map[string]*Space
	spaceByID   map[uint32]*Space
	indexByName map[indexKey]*Index
	indexByID   map[indexKey]*Index
}

func emptySnapshot() *snapshot {
	return &snapshot{
		spaceByName: make(map[string]*Space),
		spaceByID:   make(map[uint32]*Space),
		indexByName: make(map[indexKey]*Index),
		indexByID:   make(map[indexKey]*Index),
	}
}

// Dispatcher is the subset of *conn.Conn the cache needs: send a
// request, get a body back. Kept as an interface so schema has no
// import-cycle dependency on conn and so tests can fake it.
type Dispatcher interface {
	Dispatch(code uint64, body map[int]any, timeout time.Duration) (map[int]any, error)
}

// Cache is the metadata cache. Zero value is not usable; construct
// with New.
type Cache struct {
	conn    Dispatcher
	mapper  *codec.Mapper
	current atomic.Pointer[snapshot]
	limiter *rate.Limiter
	timeout time.Duration
}

// New builds an empty cache bound to conn. refreshInterval throttles
// concurrent Refresh calls: at most one full rescan proceeds per
// interval, and concurrent callers who lose the race return at once and
// observe whatever snapshot is current, which may still be the one from
// before the winner's scan.
func New(conn Dispatcher, mapper *codec.Mapper, refreshInterval time.Duration, requestTimeout time.Duration) *Cache {
	c := &Cache{
		conn:    conn,
		mapper:  mapper,
		limiter: rate.NewLimiter(rate.Every(refreshInterval), 1),
		timeout: requestTimeout,
	}
	c.current.Store(emptySnapshot())
	return c
}

// wireKeys mirrors the small-integer body keys the frame codec uses
// (duplicated from the wire package's constants rather than imported,
// to avoid a schema->wire->schema cycle risk now that wire has grown
// auth-specific keys too; values are fixed by the server protocol).
const (
	keySpaceID = 0x10
	keyIndexID = 0x11
	keyKey     = 0x20
	keyData    = 0x30
)

// Refresh rescans _vspace and _vindex and atomically publishes the
// result. Throttled: if called again before refreshInterval has
// elapsed since the last call that was let through (whether its scan
// succeeded or not), it is a no-op that returns nil.
func (c *Cache) Refresh() error {
	if !c.limiter.Allow() {
		return nil
	}

	spaceRows, err := c.fullScan(VSpaceID)
	if err != nil {
		return dberr.New(dberr.KindConnectFailure, "scan _vspace: %v", err)
	}
	indexRows, err := c.fullScan(VIndexID)
	if err != nil {
		return dberr.New(dberr.KindConnectFailure, "scan _vindex: %v", err)
	}

	next := emptySnapshot()
	for _, row := range spaceRows {
		sp, err := parseSpace(row)
		if err != nil {
			continue
		}
		next.spaceByID[sp.ID] = sp
		next.spaceByName[sp.Name] = sp
	}
	for _, row := range indexRows {
		idx, err := parseIndex(row)
		if err != nil {
			continue
		}
		next.indexByID[indexKey{idx.SpaceID, idx.IndexID}] = idx
		next.indexByName[indexKey{idx.SpaceID, idx.Name}] = idx
	}

	c.current.Store(next)
	return nil
}

func (c *Cache) fullScan(spaceID uint32) ([]codec.Tuple, error) {
	body := map[int]any{
		keySpaceID: int64(spaceID),
		keyIndexID: int64(0),
		keyKey:     []any{},
	}
	resp, err := c.conn.Dispatch(wireCodeSelect, body, c.timeout)
	if err != nil {
		return nil, err
	}
	data, _ := resp[keyData].([]any)
	rm := codec.ResultMapperFor[codec.Tuple](c.mapper)
	raw, err := c.mapper.Marshal(data)
	if err != nil {
		return nil, err
	}
	return rm.DecodeRows(raw)
}

// wireCodeSelect duplicates wire.CodeSelect's value locally for the
// same reason as the key constants above.
const wireCodeSelect = 0x01

func parseSpace(row codec.Tuple) (*Space, error) {
	if len(row) < 7 {
		return nil, dberr.New(dberr.KindProtocolError, "_vspace row too short: %d fields", len(row))
	}
	id, ok := toUint32(row[0])
	if !ok {
		return nil, dberr.New(dberr.KindProtocolError, "_vspace id field not numeric")
	}
	name, _ := row[2].(string)
	engine, _ := row[3].(string)

	var fields []FieldFormat
	if raw, ok := row[6].([]any); ok {
		for _, f := range raw {
			fm, ok := f.(map[string]any)
			if !ok {
				continue
			}
			ff := FieldFormat{}
			if n, ok := fm["name"].(string); ok {
				ff.Name = n
			}
			if t, ok := fm["type"].(string); ok {
				ff.Type = t
			}
			if nb, ok := fm["is_nullable"].(bool); ok {
				ff.Nullable = nb
			}
			fields = append(fields, ff)
		}
	}

	return &Space{ID: id, Name: name, Engine: engine, Fields: fields}, nil
}

func parseIndex(row codec.Tuple) (*Index, error) {
	if len(row) < 6 {
		return nil, dberr.New(dberr.KindProtocolError, "_vindex row too short: %d fields", len(row))
	}
	spaceID, ok := toUint32(row[0])
	if !ok {
		return nil, dberr.New(dberr.KindProtocolError, "_vindex space-id not numeric")
	}
	indexID, ok := toUint32(row[1])
	if !ok {
		return nil, dberr.New(dberr.KindProtocolError, "_vindex index-id not numeric")
	}
	name, _ := row[2].(string)
	typ, _ := row[3].(string)

	opts, _ := row[4].(map[string]any)
	unique := true
	if u, ok := opts["unique"].(bool); ok {
		unique = u
	}

	var parts []IndexPart
	if raw, ok := row[5].([]any); ok {
		for _, p := range raw {
			pair, ok := p.([]any)
			if !ok || len(pair) < 2 {
				continue
			}
			fieldNo, _ := toUint32(pair[0])
			typeName, _ := pair[1].(string)
			parts = append(parts, IndexPart{FieldNo: int(fieldNo), Type: typeName})
		}
	}

	return &Index{SpaceID: spaceID, IndexID: indexID, Name: name, Type: typ, Unique: unique, Parts: parts}, nil
}

func toUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case uint64:
		return uint32(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}

// SpaceByName looks up a space by name, triggering a lazy refresh on
// miss before reporting SpaceNotFound.
func (c *Cache) SpaceByName(name string) (*Space, error) {
	if sp, ok := c.current.Load().spaceByName[name]; ok {
		return sp, nil
	}
	c.Refresh()
	if sp, ok := c.current.Load().spaceByName[name]; ok {
		return sp, nil
	}
	return nil, &dberr.SpaceNotFoundError{Ref: name}
}

// SpaceByID looks up a space by numeric id, with the same lazy-refresh
// policy as SpaceByName.
func (c *Cache) SpaceByID(id uint32) (*Space, error) {
	if sp, ok := c.current.Load().spaceByID[id]; ok {
		return sp, nil
	}
	c.Refresh()
	if sp, ok := c.current.Load().spaceByID[id]; ok {
		return sp, nil
	}
	return nil, &dberr.SpaceNotFoundError{Ref: formatUint(id)}
}

// IndexByName looks up an index within a space by name.
func (c *Cache) IndexByName(spaceID uint32, name string) (*Index, error) {
	key := indexKey{spaceID, name}
	if idx, ok := c.current.Load().indexByName[key]; ok {
		return idx, nil
	}
	c.Refresh()
	if idx, ok := c.current.Load().indexByName[key]; ok {
		return idx, nil
	}
	return nil, &dberr.IndexNotFoundError{SpaceRef: formatUint(spaceID), IndexRef: name}
}

// IndexByID looks up an index within a space by numeric id.
func (c *Cache) IndexByID(spaceID, indexID uint32) (*Index, error) {
	key := indexKey{spaceID, indexID}
	if idx, ok := c.current.Load().indexByID[key]; ok {
		return idx, nil
	}
	c.Refresh()
	if idx, ok := c.current.Load().indexByID[key]; ok {
		return idx, nil
	}
	return nil, &dberr.IndexNotFoundError{SpaceRef: formatUint(spaceID), IndexRef: formatUint(indexID)}
}

func formatUint(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}
