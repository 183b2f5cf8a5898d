package audience

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeContacts struct {
	active map[int64]bool
	groups map[int64][]int64
}

func (f *fakeContacts) FilterActiveContacts(ctx context.Context, ownerID int64, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if f.active[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeContacts) GroupContactIDs(ctx context.Context, ownerID int64, groupIDs []int64) ([]int64, error) {
	var out []int64
	for _, gid := range groupIDs {
		for _, cid := range f.groups[gid] {
			if f.active[cid] {
				out = append(out, cid)
			}
		}
	}
	return out, nil
}

func TestResolve_UnionDedupesAcrossPaths(t *testing.T) {
	fc := &fakeContacts{
		active: map[int64]bool{1: true, 2: true, 3: true, 4: true},
		groups: map[int64][]int64{10: {2, 3, 4}},
	}
	r := NewResolver(fc)

	// contacts 2 and 3 arrive both directly and via the group
	got, err := r.Resolve(context.Background(), 1, []int64{1, 2, 3}, []int64{10})
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestResolve_SkipsInactiveContacts(t *testing.T) {
	fc := &fakeContacts{
		active: map[int64]bool{1: true},
		groups: map[int64][]int64{10: {1, 2}},
	}
	r := NewResolver(fc)

	got, err := r.Resolve(context.Background(), 1, []int64{1, 2}, []int64{10})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("got %v", got)
	}
}

func TestResolve_EmptyAudienceIsError(t *testing.T) {
	fc := &fakeContacts{active: map[int64]bool{}}
	r := NewResolver(fc)

	_, err := r.Resolve(context.Background(), 1, []int64{5}, []int64{10})
	if !errors.Is(err, ErrEmptyAudience) {
		t.Fatalf("err=%v", err)
	}
}

func TestResolve_SortedOutput(t *testing.T) {
	fc := &fakeContacts{
		active: map[int64]bool{9: true, 1: true, 5: true},
	}
	r := NewResolver(fc)

	got, err := r.Resolve(context.Background(), 1, []int64{9, 1, 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int64{1, 5, 9}) {
		t.Fatalf("got %v", got)
	}
}
