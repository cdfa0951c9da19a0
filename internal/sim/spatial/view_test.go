package spatial

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"meshworld.ai/internal/mathx"
	"meshworld.ai/internal/sim/body"
)

func randomWorld(rng *rand.Rand, n int) *body.Snapshot {
	s := body.NewSnapshot(1, n)
	// integer grid coordinates make boundary-exact distances common
	for i := 0; i < n; i++ {
		s.Append(body.Object{
			ID:     uint64(1000 - i),
			Pos:    mathx.V3(float64(rng.Intn(21)-10), float64(rng.Intn(21)-10), float64(rng.Intn(5)-2)),
			Tags:   uint32(rng.Intn(16)),
			Radius: float64(rng.Intn(3)) * 0.5,
		})
	}
	return s
}

func bruteRadius(s *body.Snapshot, p mathx.Vec3, r float64, f TagFilter) []uint64 {
	var out []uint64
	for i := 0; i < s.Len(); i++ {
		if mathx.Dist2(s.Position(i), p) <= r*r && f.Match(s.Tags[i]) {
			out = append(out, s.IDs[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func bruteCollisions(s *body.Snapshot) []Pair {
	var out []Pair
	for i := 0; i < s.Len(); i++ {
		for j := 0; j < s.Len(); j++ {
			a, b := s.IDs[i], s.IDs[j]
			if a >= b {
				continue
			}
			reach := s.Radius[i] + s.Radius[j]
			if mathx.Dist2(s.Position(i), s.Position(j)) <= reach*reach {
				out = append(out, Pair{A: a, B: b})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

func sortedIDs(ids []uint64) []uint64 {
	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestQueryRadius_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	filters := []TagFilter{{}, {All: 1}, {Any: 0b0110}, {None: 0b1000}, {All: 1, None: 2}}
	for w := 0; w < 20; w++ {
		s := randomWorld(rng, 5+rng.Intn(120))
		v := Build(s)
		for q := 0; q < 30; q++ {
			p := mathx.V3(float64(rng.Intn(21)-10), float64(rng.Intn(21)-10), 0)
			r := float64(rng.Intn(8))
			f := filters[rng.Intn(len(filters))]
			got := sortedIDs(v.QueryRadius(p, r, f))
			want := bruteRadius(s, p, r, f)
			if len(got) == 0 && len(want) == 0 {
				continue
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("world %d query %v r=%v f=%+v:\n got %v\nwant %v", w, p, r, f, got, want)
			}
		}
	}
}

func TestQueryRadius_BoundaryAndOrdering(t *testing.T) {
	s := body.NewSnapshot(1, 4)
	s.Append(body.Object{ID: 9, Pos: mathx.V3(3, 4, 0)}) // exactly 5 away
	s.Append(body.Object{ID: 4, Pos: mathx.V3(1, 0, 0)})
	s.Append(body.Object{ID: 2, Pos: mathx.V3(1, 0, 0)}) // same spot as 4
	s.Append(body.Object{ID: 7, Pos: mathx.V3(0, 5.0001, 0)})
	v := Build(s)

	got := v.QueryRadius(mathx.V3(0, 0, 0), 5, TagFilter{})
	want := []uint64{2, 4, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if got := v.QueryRadius(mathx.V3(0, 0, 0), 0, TagFilter{}); got != nil {
		t.Fatalf("zero radius at empty point: %v", got)
	}
	if got := v.QueryRadius(mathx.V3(1, 0, 0), 0, TagFilter{}); !reflect.DeepEqual(got, []uint64{2, 4}) {
		t.Fatalf("zero radius at occupied point: %v", got)
	}
}

func TestQueryCollisions_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for w := 0; w < 20; w++ {
		s := randomWorld(rng, 2+rng.Intn(80))
		got := Build(s).QueryCollisions()
		want := bruteCollisions(s)
		if len(got) == 0 && len(want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("world %d:\n got %v\nwant %v", w, got, want)
		}
	}
}

func TestQueryCollisions_Touching(t *testing.T) {
	s := body.NewSnapshot(1, 3)
	s.Append(body.Object{ID: 3, Pos: mathx.V3(0, 0, 0), Radius: 1})
	s.Append(body.Object{ID: 1, Pos: mathx.V3(2, 0, 0), Radius: 1})    // touches 3
	s.Append(body.Object{ID: 2, Pos: mathx.V3(10, 0, 0), Radius: 0.5}) // alone
	got := Build(s).QueryCollisions()
	if !reflect.DeepEqual(got, []Pair{{A: 1, B: 3}}) {
		t.Fatalf("got %v", got)
	}
}

func TestView_Empty(t *testing.T) {
	v := Build(body.NewSnapshot(1, 0))
	if v.Len() != 0 || v.QueryRadius(mathx.Vec3{}, 100, TagFilter{}) != nil || v.QueryCollisions() != nil {
		t.Fatalf("empty view must answer nothing")
	}
}

func TestTagFilter(t *testing.T) {
	cases := []struct {
		f    TagFilter
		tags uint32
		want bool
	}{
		{TagFilter{}, 0, true},
		{TagFilter{All: body.TagPlayer}, body.TagPlayer | body.TagNPC, true},
		{TagFilter{All: body.TagPlayer | body.TagNPC}, body.TagPlayer, false},
		{TagFilter{Any: body.TagNPC | body.TagProjectile}, body.TagProjectile, true},
		{TagFilter{Any: body.TagNPC}, body.TagPlayer, false},
		{TagFilter{None: body.TagStatic}, body.TagStatic | body.TagPlayer, false},
	}
	for i, c := range cases {
		if got := c.f.Match(c.tags); got != c.want {
			t.Fatalf("case %d: got %v", i, got)
		}
	}
}

func BenchmarkQueryRadius(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	s := body.NewSnapshot(1, 5000)
	for i := 0; i < 5000; i++ {
		s.Append(body.Object{ID: uint64(i + 1), Pos: mathx.V3(rng.Float64()*1000, rng.Float64()*1000, 0)})
	}
	v := Build(s)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = v.QueryRadius(mathx.V3(500, 500, 0), 25, TagFilter{})
	}
}
