package mathx

import "math"

// Vec3 is a position, velocity or acceleration in world units.
type Vec3 struct {
	X, Y, Z float64
}

func V3(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }

func (a Vec3) Len2() float64 { return a.X*a.X + a.Y*a.Y + a.Z*a.Z }

func (a Vec3) Len() float64 { return math.Sqrt(a.Len2()) }

// Dist2 is the squared euclidean distance. Range checks compare squared values
// so boundary-exact cases do not go through a sqrt.
func Dist2(a, b Vec3) float64 { return a.Sub(b).Len2() }

func (a Vec3) IsZero() bool { return a.X == 0 && a.Y == 0 && a.Z == 0 }

// Load reads the i-th vector out of an interleaved xyz array.
func Load(xyz []float64, i int) Vec3 {
	j := i * 3
	return Vec3{xyz[j], xyz[j+1], xyz[j+2]}
}

// Store writes v as the i-th vector of an interleaved xyz array.
func Store(xyz []float64, i int, v Vec3) {
	j := i * 3
	xyz[j], xyz[j+1], xyz[j+2] = v.X, v.Y, v.Z
}
