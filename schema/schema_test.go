package schema

import (
	"testing"
	"time"

	"dbwire/codec"
	"dbwire/dberr"
)

// fakeDispatcher answers _vspace/_vindex scans with a fixed fixture,
// counting how many scans it was asked for in total so tests can
// assert the rate limiter actually throttles repeat refreshes.
type fakeDispatcher struct {
	scans int
}

func (f *fakeDispatcher) Dispatch(code uint64, body map[int]any, timeout time.Duration) (map[int]any, error) {
	f.scans++
	spaceID := body[keySpaceID].(int64)

	var data []any
	switch spaceID {
	case VSpaceID:
		data = []any{
			[]any{int64(512), uint64(1), "users", "memtx", map[string]any{}, map[string]any{},
				[]any{
					map[string]any{"name": "id", "type": "unsigned", "is_nullable": false},
					map[string]any{"name": "login", "type": "string", "is_nullable": false},
				},
			},
		}
	case VIndexID:
		data = []any{
			[]any{int64(512), int64(0), "primary", "tree", map[string]any{"unique": true},
				[]any{
					[]any{int64(0), "unsigned"},
				},
			},
		}
	}

	mapper := codec.DefaultMapper()
	raw, err := mapper.Marshal(data)
	if err != nil {
		return nil, err
	}
	var decoded []any
	if err := mapper.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return map[int]any{keyData: decoded}, nil
}

func TestCacheResolvesSpaceAndIndexByNameAndID(t *testing.T) {
	disp := &fakeDispatcher{}
	cache := New(disp, codec.DefaultMapper(), time.Minute, time.Second)

	sp, err := cache.SpaceByName("users")
	if err != nil {
		t.Fatalf("SpaceByName: %v", err)
	}
	if sp.ID != 512 {
		t.Fatalf("expected space id 512, got %d", sp.ID)
	}

	byID, err := cache.SpaceByID(512)
	if err != nil {
		t.Fatalf("SpaceByID: %v", err)
	}
	if byID.Name != "users" {
		t.Fatalf("expected name users, got %q", byID.Name)
	}

	idx, err := cache.IndexByName(512, "primary")
	if err != nil {
		t.Fatalf("IndexByName: %v", err)
	}
	if !idx.Unique || len(idx.Parts) != 1 {
		t.Fatalf("unexpected index: %+v", idx)
	}

	idxByID, err := cache.IndexByID(512, 0)
	if err != nil {
		t.Fatalf("IndexByID: %v", err)
	}
	if idxByID.Name != "primary" {
		t.Fatalf("expected primary, got %q", idxByID.Name)
	}
}

func TestCacheMissingSpaceReturnsNotFound(t *testing.T) {
	disp := &fakeDispatcher{}
	cache := New(disp, codec.DefaultMapper(), time.Minute, time.Second)

	_, err := cache.SpaceByName("ghost")
	var notFound *dberr.SpaceNotFoundError
	if err == nil {
		t.Fatal("expected SpaceNotFound")
	}
	if ok := isSpaceNotFound(err, &notFound); !ok {
		t.Fatalf("expected SpaceNotFoundError, got %v (%T)", err, err)
	}
}

func isSpaceNotFound(err error, target **dberr.SpaceNotFoundError) bool {
	if e, ok := err.(*dberr.SpaceNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

func TestRefreshIsThrottled(t *testing.T) {
	disp := &fakeDispatcher{}
	cache := New(disp, codec.DefaultMapper(), time.Hour, time.Second)

	if err := cache.Refresh(); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	scansAfterFirst := disp.scans

	// A second Refresh well inside the throttle window must not issue
	// new scans.
	if err := cache.Refresh(); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if disp.scans != scansAfterFirst {
		t.Fatalf("expected refresh to be throttled, scans went from %d to %d", scansAfterFirst, disp.scans)
	}
}
