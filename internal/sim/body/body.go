// Package body holds the kinematic object model shared by the shard, the
// spatial index and the notification pipeline.
package body

import "meshworld.ai/internal/mathx"

// Tag bits carried by objects for filtered queries.
const (
	TagPlayer uint32 = 1 << iota
	TagNPC
	TagProjectile
	TagStatic
)

// Object is one tracked entity. An object belongs to exactly one zone;
// Session is the owning session id, empty for server-owned objects.
type Object struct {
	ID            uint64
	Zone          uint32
	Session       string
	Pos           mathx.Vec3
	Vel           mathx.Vec3
	Acc           mathx.Vec3
	Tags          uint32
	Radius        float64
	LastBroadcast mathx.Vec3
}

// Snapshot is the state of one zone at a tick boundary, stored as parallel
// arrays. Vector arrays are interleaved xyz, 3 floats per object. A Snapshot
// is never written after it is published.
type Snapshot struct {
	Zone uint32
	Tick uint64
	DT   float64

	IDs           []uint64
	Pos           []float64
	Vel           []float64
	Acc           []float64
	LastBroadcast []float64
	Tags          []uint32
	Radius        []float64
	Session       []string

	index map[uint64]int
}

func NewSnapshot(zone uint32, capacity int) *Snapshot {
	return &Snapshot{
		Zone:          zone,
		IDs:           make([]uint64, 0, capacity),
		Pos:           make([]float64, 0, 3*capacity),
		Vel:           make([]float64, 0, 3*capacity),
		Acc:           make([]float64, 0, 3*capacity),
		LastBroadcast: make([]float64, 0, 3*capacity),
		Tags:          make([]uint32, 0, capacity),
		Radius:        make([]float64, 0, capacity),
		Session:       make([]string, 0, capacity),
		index:         make(map[uint64]int, capacity),
	}
}

func (s *Snapshot) Len() int { return len(s.IDs) }

// Append adds o as the last row.
func (s *Snapshot) Append(o Object) {
	if s.index == nil {
		s.index = map[uint64]int{}
	}
	s.index[o.ID] = len(s.IDs)
	s.IDs = append(s.IDs, o.ID)
	s.Pos = append(s.Pos, o.Pos.X, o.Pos.Y, o.Pos.Z)
	s.Vel = append(s.Vel, o.Vel.X, o.Vel.Y, o.Vel.Z)
	s.Acc = append(s.Acc, o.Acc.X, o.Acc.Y, o.Acc.Z)
	s.LastBroadcast = append(s.LastBroadcast, o.LastBroadcast.X, o.LastBroadcast.Y, o.LastBroadcast.Z)
	s.Tags = append(s.Tags, o.Tags)
	s.Radius = append(s.Radius, o.Radius)
	s.Session = append(s.Session, o.Session)
}

// Remove deletes row i by moving the last row into its place.
func (s *Snapshot) Remove(i int) {
	last := len(s.IDs) - 1
	delete(s.index, s.IDs[i])
	if i != last {
		s.IDs[i] = s.IDs[last]
		copy(s.Pos[3*i:3*i+3], s.Pos[3*last:])
		copy(s.Vel[3*i:3*i+3], s.Vel[3*last:])
		copy(s.Acc[3*i:3*i+3], s.Acc[3*last:])
		copy(s.LastBroadcast[3*i:3*i+3], s.LastBroadcast[3*last:])
		s.Tags[i] = s.Tags[last]
		s.Radius[i] = s.Radius[last]
		s.Session[i] = s.Session[last]
		s.index[s.IDs[i]] = i
	}
	s.IDs = s.IDs[:last]
	s.Pos = s.Pos[:3*last]
	s.Vel = s.Vel[:3*last]
	s.Acc = s.Acc[:3*last]
	s.LastBroadcast = s.LastBroadcast[:3*last]
	s.Tags = s.Tags[:last]
	s.Radius = s.Radius[:last]
	s.Session = s.Session[:last]
}

func (s *Snapshot) IndexOf(id uint64) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

func (s *Snapshot) Position(i int) mathx.Vec3 { return mathx.Load(s.Pos, i) }

func (s *Snapshot) Object(i int) Object {
	return Object{
		ID:            s.IDs[i],
		Zone:          s.Zone,
		Session:       s.Session[i],
		Pos:           mathx.Load(s.Pos, i),
		Vel:           mathx.Load(s.Vel, i),
		Acc:           mathx.Load(s.Acc, i),
		Tags:          s.Tags[i],
		Radius:        s.Radius[i],
		LastBroadcast: mathx.Load(s.LastBroadcast, i),
	}
}

// Clone returns a deep copy that can be published while the original keeps
// being advanced.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Zone:          s.Zone,
		Tick:          s.Tick,
		DT:            s.DT,
		IDs:           append([]uint64(nil), s.IDs...),
		Pos:           append([]float64(nil), s.Pos...),
		Vel:           append([]float64(nil), s.Vel...),
		Acc:           append([]float64(nil), s.Acc...),
		LastBroadcast: append([]float64(nil), s.LastBroadcast...),
		Tags:          append([]uint32(nil), s.Tags...),
		Radius:        append([]float64(nil), s.Radius...),
		Session:       append([]string(nil), s.Session...),
		index:         make(map[uint64]int, len(s.IDs)),
	}
	for i, id := range c.IDs {
		c.index[id] = i
	}
	return c
}

// SessionObjects lists the ids owned by session, in row order.
func (s *Snapshot) SessionObjects(session string) []uint64 {
	var out []uint64
	for i, owner := range s.Session {
		if owner == session {
			out = append(out, s.IDs[i])
		}
	}
	return out
}
