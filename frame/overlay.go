package frame

import (
	"image"
	"image/color"
	"image/draw"
)

// Point is a landmark in normalized image coordinates.
type Point struct {
	X, Y       float64
	Visibility float64
}

var (
	jointColor = color.RGBA{R: 245, G: 117, B: 66, A: 255}
	boneColor  = color.RGBA{R: 245, G: 66, B: 230, A: 255}
)

// PoseConnections lists the bones of the 33-point body model.
var PoseConnections = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 7}, {0, 4}, {4, 5}, {5, 6}, {6, 8}, {9, 10},
	{11, 12}, {11, 13}, {13, 15}, {15, 17}, {15, 19}, {15, 21}, {17, 19},
	{12, 14}, {14, 16}, {16, 18}, {16, 20}, {16, 22}, {18, 20},
	{11, 23}, {12, 24}, {23, 24}, {23, 25}, {24, 26}, {25, 27}, {26, 28},
	{27, 29}, {28, 30}, {29, 31}, {30, 32}, {27, 31}, {28, 32},
}

// DrawSkeleton returns a copy of img with bones and joints painted on it.
// Points below minVisibility are skipped together with their bones.
func DrawSkeleton(img image.Image, points []Point, minVisibility float64) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)

	pixel := func(p Point) image.Point {
		return image.Pt(b.Min.X+int(p.X*float64(b.Dx())), b.Min.Y+int(p.Y*float64(b.Dy())))
	}
	visible := func(i int) bool {
		return i < len(points) && points[i].Visibility >= minVisibility
	}

	for _, c := range PoseConnections {
		if !visible(c[0]) || !visible(c[1]) {
			continue
		}
		drawLine(dst, pixel(points[c[0]]), pixel(points[c[1]]), boneColor)
	}
	for i, p := range points {
		if !visible(i) {
			continue
		}
		fillDot(dst, pixel(p), 3, jointColor)
	}
	return dst
}

func drawLine(dst *image.RGBA, a, b image.Point, c color.RGBA) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		fillDot(dst, image.Pt(x, y), 1, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func fillDot(dst *image.RGBA, center image.Point, radius int, c color.RGBA) {
	r := image.Rect(center.X-radius, center.Y-radius, center.X+radius+1, center.Y+radius+1).Intersect(dst.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			ddx, ddy := x-center.X, y-center.Y
			if ddx*ddx+ddy*ddy <= radius*radius+1 {
				dst.SetRGBA(x, y, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
