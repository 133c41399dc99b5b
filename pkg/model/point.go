package model

import (
	"fmt"
	"math"
)

// Point3D is a voxel-space coordinate triple. Values are stored as float64
// because annotation tables may carry fractional voxel coordinates prior to
// rounding for supervoxel lookup, matching the source system's column types.
type Point3D struct {
	X float64
	Y float64
	Z float64
}

// Rounded truncates each axis to the nearest voxel index.
func (p Point3D) Rounded() [3]int64 {
	return [3]int64{
		int64(p.X + 0.5),
		int64(p.Y + 0.5),
		int64(p.Z + 0.5),
	}
}

func (p Point3D) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", p.X, p.Y, p.Z)
}

// ScaledBy converts p from one voxel resolution into another: scale is the
// target resolution divided by the resolution p is currently expressed in,
// and the result is floored to the containing voxel, matching
// normalize_positions/get_scatter_points's "pt // (seg_res / coord_res)"
// conversion from an annotation's stored coordinate resolution into the
// segmentation volume's native voxel space.
func (p Point3D) ScaledBy(scale Point3D) Point3D {
	return Point3D{
		X: math.Floor(p.X / scale.X),
		Y: math.Floor(p.Y / scale.Y),
		Z: math.Floor(p.Z / scale.Z),
	}
}

// BoundingBox is an axis-aligned 3D box in voxel space, inclusive of Min and
// exclusive of Max on every axis, matching the half-open chunk convention
// used by the chunking strategy.
type BoundingBox struct {
	Min Point3D
	Max Point3D
}

// Contains reports whether p falls within the box on all three axes.
func (b BoundingBox) Contains(p Point3D) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// Equal reports whether two bounding boxes cover the same volume. Used to
// detect a changed bounding box across a resumed materialization run.
func (b BoundingBox) Equal(other BoundingBox) bool {
	return b.Min == other.Min && b.Max == other.Max
}

// Union returns the smallest box enclosing both b and other, the
// min-of-mins/max-of-maxes combination BoundingBoxOf uses to merge the
// per-column MIN/MAX aggregates of a tight-bounding-box query into one box
// spanning every point column.
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	return BoundingBox{
		Min: Point3D{
			X: math.Min(b.Min.X, other.Min.X),
			Y: math.Min(b.Min.Y, other.Min.Y),
			Z: math.Min(b.Min.Z, other.Min.Z),
		},
		Max: Point3D{
			X: math.Max(b.Max.X, other.Max.X),
			Y: math.Max(b.Max.Y, other.Max.Y),
			Z: math.Max(b.Max.Z, other.Max.Z),
		},
	}
}

// Volume returns the number of voxels enclosed by the box.
func (b BoundingBox) Volume() float64 {
	dx := b.Max.X - b.Min.X
	dy := b.Max.Y - b.Min.Y
	dz := b.Max.Z - b.Min.Z
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return 0
	}
	return dx * dy * dz
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%s .. %s]", b.Min, b.Max)
}
