package space

import (
	"testing"
	"time"

	"dbwire/codec"
	"dbwire/schema"
	"dbwire/wire"
)

// fakeConn answers schema scans from a fixed _vspace/_vindex fixture
// and CRUD requests by recording the body it was given and returning a
// canned tuple sequence, so Space's body-building and validation logic
// can be exercised without a real server.
type fakeConn struct {
	mapper      *codec.Mapper
	lastCode    uint64
	lastBody    map[int]any
	replyTuples []any
}

func (f *fakeConn) Dispatch(code uint64, body map[int]any, timeout time.Duration) (map[int]any, error) {
	switch code {
	case wire.CodeSelect:
		if body[wire.KeySpaceID] == int64(schema.VSpaceID) {
			return f.schemaReply([]any{
				[]any{int64(512), uint64(1), "users", "memtx", map[string]any{}, map[string]any{},
					[]any{map[string]any{"name": "id", "type": "unsigned", "is_nullable": false}},
				},
			})
		}
		if body[wire.KeySpaceID] == int64(schema.VIndexID) {
			return f.schemaReply([]any{
				[]any{int64(512), int64(0), "primary", "tree", map[string]any{"unique": true},
					[]any{[]any{int64(0), "unsigned"}},
				},
			})
		}
	}

	f.lastCode = code
	f.lastBody = body
	return f.schemaReply(f.replyTuples)
}

func (f *fakeConn) schemaReply(data []any) (map[int]any, error) {
	raw, err := f.mapper.Marshal(data)
	if err != nil {
		return nil, err
	}
	var decoded []any
	if err := f.mapper.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return map[int]any{wire.KeyData: decoded}, nil
}

func openTestSpace(t *testing.T, conn *fakeConn) *Space {
	t.Helper()
	mapper := codec.DefaultMapper()
	conn.mapper = mapper
	cache := schema.New(conn, mapper, time.Hour, time.Second)
	sp, err := Open(conn, cache, mapper, "users", time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sp
}

func TestOpenUnknownSpaceFails(t *testing.T) {
	conn := &fakeConn{mapper: codec.DefaultMapper()}
	cache := schema.New(conn, conn.mapper, time.Hour, time.Second)
	if _, err := Open(conn, cache, conn.mapper, "ghost", time.Second); err == nil {
		t.Fatal("expected SpaceNotFound for unknown space")
	}
}

func TestSelectBuildsCorrectBody(t *testing.T) {
	conn := &fakeConn{replyTuples: []any{[]any{int64(1), "alice"}}}
	sp := openTestSpace(t, conn)

	rows, err := sp.Select("primary", []any{int64(1)}, SelectOptions{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 || rows[0][1] != "alice" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if conn.lastCode != wire.CodeSelect {
		t.Fatalf("expected select code, got %#x", conn.lastCode)
	}
	if conn.lastBody[wire.KeySpaceID] != int64(512) {
		t.Fatalf("expected space-id 512, got %v", conn.lastBody[wire.KeySpaceID])
	}
	if conn.lastBody[wire.KeyIndexID] != int64(0) {
		t.Fatalf("expected index-id 0, got %v", conn.lastBody[wire.KeyIndexID])
	}
}

func TestSelectRejectsOversizedKey(t *testing.T) {
	conn := &fakeConn{}
	sp := openTestSpace(t, conn)

	_, err := sp.Select("primary", []any{int64(1), int64(2)}, SelectOptions{})
	if err == nil {
		t.Fatal("expected key-arity rejection")
	}
}

func TestSelectRejectsUnknownIndex(t *testing.T) {
	conn := &fakeConn{}
	sp := openTestSpace(t, conn)

	if _, err := sp.Select("secondary", []any{int64(1)}, SelectOptions{}); err == nil {
		t.Fatal("expected IndexNotFound for unknown index")
	}
}

func TestInsertAndReplace(t *testing.T) {
	conn := &fakeConn{replyTuples: []any{[]any{int64(2), "bob"}}}
	sp := openTestSpace(t, conn)

	if _, err := sp.Insert([]any{int64(2), "bob"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if conn.lastCode != wire.CodeInsert {
		t.Fatalf("expected insert code, got %#x", conn.lastCode)
	}

	if _, err := sp.Replace([]any{int64(2), "bobby"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if conn.lastCode != wire.CodeReplace {
		t.Fatalf("expected replace code, got %#x", conn.lastCode)
	}
}

func TestUpdateRejectsEmptyOps(t *testing.T) {
	conn := &fakeConn{}
	sp := openTestSpace(t, conn)

	if _, err := sp.Update("primary", []any{int64(1)}, nil); err == nil {
		t.Fatal("expected error for empty update ops")
	}
}

func TestUpdateEncodesOps(t *testing.T) {
	conn := &fakeConn{replyTuples: []any{[]any{int64(1), "carol"}}}
	sp := openTestSpace(t, conn)

	_, err := sp.Update("primary", []any{int64(1)}, []UpdateOp{{Op: "=", FieldNo: 1, Arg: "carol"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	ops, ok := conn.lastBody[wire.KeyTuple].([]any)
	if !ok || len(ops) != 1 {
		t.Fatalf("expected one encoded op, got %v", conn.lastBody[wire.KeyTuple])
	}
}

func TestDelete(t *testing.T) {
	conn := &fakeConn{replyTuples: []any{[]any{int64(1), "alice"}}}
	sp := openTestSpace(t, conn)

	if _, err := sp.Delete("primary", []any{int64(1)}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if conn.lastCode != wire.CodeDelete {
		t.Fatalf("expected delete code, got %#x", conn.lastCode)
	}
}

func TestUpsertRejectsEmptyOps(t *testing.T) {
	conn := &fakeConn{}
	sp := openTestSpace(t, conn)

	if _, err := sp.Upsert([]any{int64(1), "alice"}, nil); err == nil {
		t.Fatal("expected error for empty upsert ops")
	}
}

func TestUpsertEncodesTupleAndOps(t *testing.T) {
	conn := &fakeConn{replyTuples: []any{}}
	sp := openTestSpace(t, conn)

	_, err := sp.Upsert([]any{int64(3), "dave"}, []UpdateOp{{Op: "+", FieldNo: 0, Arg: int64(1)}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if conn.lastCode != wire.CodeUpsert {
		t.Fatalf("expected upsert code, got %#x", conn.lastCode)
	}
	if _, ok := conn.lastBody[wire.KeyOps]; !ok {
		t.Fatal("expected ops key in upsert body")
	}
}
