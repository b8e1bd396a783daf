// Package reconstruction recovers calibrated camera poses and 3D points from 2D marker tracks.
//
// Cameras follow the convention x_cam = R X + t. Markers handed to the building blocks in this
// package (intersection, resection, bundle adjustment) are in normalized image coordinates, that is
// with the intrinsics already inverted; Solve and SolveModal take raw pixel markers and do the
// normalization themselves.
package reconstruction

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/rimage/transform"
)

// EuclideanCamera is the pose of one reconstructed image.
type EuclideanCamera struct {
	Image       int
	Rotation    *mat.Dense
	Translation r3.Vector
}

// Pose returns the camera as a world to camera transform.
func (c *EuclideanCamera) Pose() *transform.CamPose {
	return &transform.CamPose{Rotation: c.Rotation, Translation: c.Translation}
}

// ToCamera maps a world point into camera coordinates.
func (c *EuclideanCamera) ToCamera(x r3.Vector) r3.Vector {
	return transform.MulVec3(c.Rotation, x).Add(c.Translation)
}

// Project returns the normalized image position of a world point and its depth.
func (c *EuclideanCamera) Project(x r3.Vector) (r2.Point, float64) {
	p := c.ToCamera(x)
	return r2.Point{X: p.X / p.Z, Y: p.Y / p.Z}, p.Z
}

// Center returns the camera center in world coordinates.
func (c *EuclideanCamera) Center() r3.Vector {
	return transform.MulTransVec3(c.Rotation, c.Translation).Mul(-1)
}

// CameraToWorld returns the 4x4 camera to world transform [Rᵀ | C; 0 0 0 1].
func (c *EuclideanCamera) CameraToWorld() *mat.Dense {
	center := c.Center()
	out := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			out.Set(r, col, c.Rotation.At(col, r))
		}
	}
	out.Set(0, 3, center.X)
	out.Set(1, 3, center.Y)
	out.Set(2, 3, center.Z)
	out.Set(3, 3, 1)
	return out
}

func (c *EuclideanCamera) clone() *EuclideanCamera {
	return &EuclideanCamera{Image: c.Image, Rotation: mat.DenseCopyOf(c.Rotation), Translation: c.Translation}
}

// EuclideanPoint is one reconstructed track.
type EuclideanPoint struct {
	Track int
	X     r3.Vector
}

// EuclideanReconstruction holds the cameras and points recovered so far.
type EuclideanReconstruction struct {
	cameras map[int]*EuclideanCamera
	points  map[int]*EuclideanPoint
}

// NewEuclideanReconstruction returns an empty reconstruction.
func NewEuclideanReconstruction() *EuclideanReconstruction {
	return &EuclideanReconstruction{
		cameras: map[int]*EuclideanCamera{},
		points:  map[int]*EuclideanPoint{},
	}
}

// InsertCamera adds or replaces the camera of an image.
func (r *EuclideanReconstruction) InsertCamera(image int, rotation *mat.Dense, translation r3.Vector) {
	r.cameras[image] = &EuclideanCamera{Image: image, Rotation: mat.DenseCopyOf(rotation), Translation: translation}
}

// InsertPoint adds or replaces the point of a track.
func (r *EuclideanReconstruction) InsertPoint(track int, x r3.Vector) {
	r.points[track] = &EuclideanPoint{Track: track, X: x}
}

// RemoveCamera drops the camera of an image.
func (r *EuclideanReconstruction) RemoveCamera(image int) {
	delete(r.cameras, image)
}

// RemovePoint drops the point of a track.
func (r *EuclideanReconstruction) RemovePoint(track int) {
	delete(r.points, track)
}

// CameraForImage returns the camera of an image or nil.
func (r *EuclideanReconstruction) CameraForImage(image int) *EuclideanCamera {
	return r.cameras[image]
}

// PointForTrack returns the point of a track or nil.
func (r *EuclideanReconstruction) PointForTrack(track int) *EuclideanPoint {
	return r.points[track]
}

// NumCameras returns the number of cameras.
func (r *EuclideanReconstruction) NumCameras() int { return len(r.cameras) }

// NumPoints returns the number of points.
func (r *EuclideanReconstruction) NumPoints() int { return len(r.points) }

// AllCameras returns the cameras sorted by image.
func (r *EuclideanReconstruction) AllCameras() []*EuclideanCamera {
	out := make([]*EuclideanCamera, 0, len(r.cameras))
	for _, c := range r.cameras {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Image < out[j].Image })
	return out
}

// AllPoints returns the points sorted by track.
func (r *EuclideanReconstruction) AllPoints() []*EuclideanPoint {
	out := make([]*EuclideanPoint, 0, len(r.points))
	for _, p := range r.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Track < out[j].Track })
	return out
}

// Clone returns a deep copy.
func (r *EuclideanReconstruction) Clone() *EuclideanReconstruction {
	out := NewEuclideanReconstruction()
	for image, c := range r.cameras {
		out.cameras[image] = c.clone()
	}
	for track, p := range r.points {
		cp := *p
		out.points[track] = &cp
	}
	return out
}
