// Package space implements the typed CRUD surface: select, insert,
// replace, update, delete, upsert, each validated against the metadata
// cache before it ever reaches the wire.
package space

import (
	"time"

	"dbwire/codec"
	"dbwire/dberr"
	"dbwire/schema"
	"dbwire/wire"
)

// Dispatcher is the subset of *conn.Conn a Space needs.
type Dispatcher interface {
	Dispatch(code uint64, body map[int]any, timeout time.Duration) (map[int]any, error)
}

// UpdateOp is one positional update operation: `{op-symbol, field-no,
// argument}`.
type UpdateOp struct {
	Op      string // "+", "-", "&", "|", "^", ":", "!", "#", "="
	FieldNo int
	Arg     any
}

func (u UpdateOp) encode() []any {
	return []any{u.Op, int64(u.FieldNo), u.Arg}
}

// Space is a handle bound to one named space, sharing the connection
// and metadata cache it was built from. Its lifetime must not exceed
// the connection's.
type Space struct {
	conn    Dispatcher
	schema  *schema.Cache
	mapper  *codec.Mapper
	meta    *schema.Space
	timeout time.Duration
}

// Open resolves name against the metadata cache and returns a bound
// Space, or SpaceNotFound if it doesn't exist.
func Open(conn Dispatcher, cache *schema.Cache, mapper *codec.Mapper, name string, timeout time.Duration) (*Space, error) {
	meta, err := cache.SpaceByName(name)
	if err != nil {
		return nil, err
	}
	return &Space{conn: conn, schema: cache, mapper: mapper, meta: meta, timeout: timeout}, nil
}

// Name returns the space's name as resolved at Open time.
func (s *Space) Name() string { return s.meta.Name }

func (s *Space) resolveIndex(indexName string) (*schema.Index, error) {
	return s.schema.IndexByName(s.meta.ID, indexName)
}

// checkKeyArity enforces that key length must not exceed the index's
// part count; shorter keys are allowed (prefix scans).
func checkKeyArity(idx *schema.Index, key []any) error {
	if len(key) > len(idx.Parts) {
		return dberr.New(dberr.KindProtocolError,
			"key arity %d exceeds index %q part count %d", len(key), idx.Name, len(idx.Parts))
	}
	return nil
}

func (s *Space) decodeTuples(body map[int]any) ([]codec.Tuple, error) {
	data, _ := body[wire.KeyData].([]any)
	raw, err := s.mapper.Marshal(data)
	if err != nil {
		return nil, err
	}
	rm := codec.ResultMapperFor[codec.Tuple](s.mapper)
	return rm.DecodeRows(raw)
}

// Select performs an index scan. A zero SelectOptions leaves limit,
// offset and iterator to the server; a nil or empty key selects all tuples reachable by idx (a full scan when idx is the
// primary index and key is empty).
func (s *Space) Select(indexName string, key []any, options SelectOptions) ([]codec.Tuple, error) {
	idx, err := s.resolveIndex(indexName)
	if err != nil {
		return nil, err
	}
	if err := checkKeyArity(idx, key); err != nil {
		return nil, err
	}

	body := map[int]any{
		wire.KeySpaceID: int64(s.meta.ID),
		wire.KeyIndexID: int64(idx.IndexID),
		wire.KeyKey:     key,
	}
	options.apply(body)

	resp, err := s.conn.Dispatch(wire.CodeSelect, body, s.timeout)
	if err != nil {
		return nil, err
	}
	return s.decodeTuples(resp)
}

// SelectOptions carries the optional limit/offset/iterator parameters
// of a select request. Zero value means "server defaults".
type SelectOptions struct {
	Limit    int64
	Offset   int64
	Iterator int64
	HasLimit bool
	HasOffset bool
	HasIterator bool
}

const (
	keyLimit    = 0x12
	keyOffset   = 0x13
	keyIterator = 0x14
)

func (o SelectOptions) apply(body map[int]any) {
	if o.HasLimit {
		body[keyLimit] = o.Limit
	}
	if o.HasOffset {
		body[keyOffset] = o.Offset
	}
	if o.HasIterator {
		body[keyIterator] = o.Iterator
	}
}

// Insert adds tuple to the space, failing if a tuple with the same
// primary key already exists.
func (s *Space) Insert(tuple []any) ([]codec.Tuple, error) {
	body := map[int]any{
		wire.KeySpaceID: int64(s.meta.ID),
		wire.KeyTuple:   tuple,
	}
	resp, err := s.conn.Dispatch(wire.CodeInsert, body, s.timeout)
	if err != nil {
		return nil, err
	}
	return s.decodeTuples(resp)
}

// Replace inserts tuple, overwriting any existing tuple with the same
// primary key.
func (s *Space) Replace(tuple []any) ([]codec.Tuple, error) {
	body := map[int]any{
		wire.KeySpaceID: int64(s.meta.ID),
		wire.KeyTuple:   tuple,
	}
	resp, err := s.conn.Dispatch(wire.CodeReplace, body, s.timeout)
	if err != nil {
		return nil, err
	}
	return s.decodeTuples(resp)
}

// Update applies ops to the tuple matched by key under indexName. ops
// must be non-empty.
func (s *Space) Update(indexName string, key []any, ops []UpdateOp) ([]codec.Tuple, error) {
	if len(ops) == 0 {
		return nil, dberr.New(dberr.KindProtocolError, "update requires at least one operation")
	}
	idx, err := s.resolveIndex(indexName)
	if err != nil {
		return nil, err
	}
	if err := checkKeyArity(idx, key); err != nil {
		return nil, err
	}

	body := map[int]any{
		wire.KeySpaceID: int64(s.meta.ID),
		wire.KeyIndexID: int64(idx.IndexID),
		wire.KeyKey:     key,
		wire.KeyTuple:   encodeOps(ops),
	}
	resp, err := s.conn.Dispatch(wire.CodeUpdate, body, s.timeout)
	if err != nil {
		return nil, err
	}
	return s.decodeTuples(resp)
}

// Delete removes the tuple matched by key under indexName.
func (s *Space) Delete(indexName string, key []any) ([]codec.Tuple, error) {
	idx, err := s.resolveIndex(indexName)
	if err != nil {
		return nil, err
	}
	if err := checkKeyArity(idx, key); err != nil {
		return nil, err
	}

	body := map[int]any{
		wire.KeySpaceID: int64(s.meta.ID),
		wire.KeyIndexID: int64(idx.IndexID),
		wire.KeyKey:     key,
	}
	resp, err := s.conn.Dispatch(wire.CodeDelete, body, s.timeout)
	if err != nil {
		return nil, err
	}
	return s.decodeTuples(resp)
}

// Upsert inserts tuple, or applies ops to the existing tuple with the
// same primary key if one is already present. ops must be non-empty.
func (s *Space) Upsert(tuple []any, ops []UpdateOp) ([]codec.Tuple, error) {
	if len(ops) == 0 {
		return nil, dberr.New(dberr.KindProtocolError, "upsert requires at least one operation")
	}

	body := map[int]any{
		wire.KeySpaceID: int64(s.meta.ID),
		wire.KeyTuple:   tuple,
		wire.KeyOps:     encodeOps(ops),
	}
	resp, err := s.conn.Dispatch(wire.CodeUpsert, body, s.timeout)
	if err != nil {
		return nil, err
	}
	return s.decodeTuples(resp)
}

func encodeOps(ops []UpdateOp) []any {
	out := make([]any, len(ops))
	for i, op := range ops {
		out[i] = op.encode()
	}
	return out
}
