package surface

import (
	"github.com/go-gl/mathgl/mgl32"

	"flow-texture/pkg/media"
)

// SampleTransform maps quad texture coordinates (origin bottom-left, as the
// quad is drawn) to coordinates in the uploaded texture, whose first row is
// the top row of the decoded picture. It applies, in order: the display
// rotation about the center, the vertical flip, and the crop rectangle.
func SampleTransform(f media.Frame) mgl32.Mat4 {
	m := mgl32.Ident4()
	if f.Width <= 0 || f.Height <= 0 {
		return m
	}

	if deg := normalizeRotation(f.Rotation); deg != 0 {
		m = mgl32.Translate3D(0.5, 0.5, 0).
			Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(float32(deg)))).
			Mul4(mgl32.Translate3D(-0.5, -0.5, 0))
	}

	flip := mgl32.Translate3D(0, 1, 0).Mul4(mgl32.Scale3D(1, -1, 1))
	m = flip.Mul4(m)

	b := f.Bounds()
	w, h := float32(f.Width), float32(f.Height)
	crop := mgl32.Translate3D(float32(b.Min.X)/w, float32(b.Min.Y)/h, 0).
		Mul4(mgl32.Scale3D(float32(b.Dx())/w, float32(b.Dy())/h, 1))
	return crop.Mul4(m)
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
