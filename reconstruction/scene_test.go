package reconstruction

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/tracks"
)

// syntheticScene is a ground truth reconstruction with its pixel markers.
type syntheticScene struct {
	intrinsics *transform.CameraIntrinsics
	truth      *EuclideanReconstruction
	tracks     *tracks.Tracks
}

func testIntrinsics() *transform.CameraIntrinsics {
	return transform.NewCameraIntrinsicsFromOptions(transform.CameraIntrinsicsOptions{
		FocalLength:     500,
		PrincipalPointX: 320,
		PrincipalPointY: 240,
		ImageWidth:      640,
		ImageHeight:     480,
	})
}

// lookAt returns the rotation of a camera at center looking at target with image y along world y.
func lookAt(center, target r3.Vector) *mat.Dense {
	z := target.Sub(center).Normalize()
	x := r3.Vector{Y: 1}.Cross(z).Normalize()
	y := z.Cross(x)
	return mat.NewDense(3, 3, []float64{
		x.X, x.Y, x.Z,
		y.X, y.Y, y.Z,
		z.X, z.Y, z.Z,
	})
}

// boxPoints returns the corners of a slightly perturbed cube plus interior points.
func boxPoints(rng *rand.Rand, interior int) []r3.Vector {
	var points []r3.Vector
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				points = append(points, r3.Vector{
					X: sx + 0.2*(rng.Float64()-0.5),
					Y: sy + 0.2*(rng.Float64()-0.5),
					Z: sz + 0.2*(rng.Float64()-0.5),
				})
			}
		}
	}
	for i := 0; i < interior; i++ {
		points = append(points, r3.Vector{
			X: 1.6 * (rng.Float64() - 0.5),
			Y: 1.6 * (rng.Float64() - 0.5),
			Z: 1.6 * (rng.Float64() - 0.5),
		})
	}
	return points
}

// newSyntheticScene builds cameras at centers looking at the origin and projects every point into
// every camera.
func newSyntheticScene(centers, points []r3.Vector) *syntheticScene {
	s := &syntheticScene{
		intrinsics: testIntrinsics(),
		truth:      NewEuclideanReconstruction(),
		tracks:     tracks.New(),
	}
	for image, c := range centers {
		rotation := lookAt(c, r3.Vector{})
		s.truth.InsertCamera(image, rotation, transform.MulVec3(rotation, c).Mul(-1))
	}
	for track, x := range points {
		s.truth.InsertPoint(track, x)
	}
	for _, camera := range s.truth.AllCameras() {
		for _, p := range s.truth.AllPoints() {
			normalized, _ := camera.Project(p.X)
			u, v := s.intrinsics.ApplyIntrinsics(normalized.X, normalized.Y)
			s.tracks.Insert(camera.Image, p.Track, u, v)
		}
	}
	return s
}

func orbitCenters(n int, radius, step float64) []r3.Vector {
	centers := make([]r3.Vector, n)
	for i := range centers {
		angle := step * float64(i)
		centers[i] = r3.Vector{X: radius * math.Sin(angle), Y: 0.3 * float64(i%2), Z: -radius * math.Cos(angle)}
	}
	return centers
}
