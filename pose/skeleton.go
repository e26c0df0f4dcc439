package pose

import (
	"errors"
	"fmt"

	"strzcam.com/posture/frame"
)

const (
	NumLandmarks     = 33
	FieldsPerPoint   = 4
	FeatureLen       = NumLandmarks * FieldsPerPoint
	columnFieldNames = "xyzv"
)

var ErrMalformedSkeleton = errors.New("malformed skeleton")

// Landmark is one body point in normalized image coordinates.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

type Skeleton []Landmark

// FeatureVector is the flattened skeleton fed to the classifiers.
type FeatureVector [FeatureLen]float64

var columns = func() []string {
	out := make([]string, 0, FeatureLen)
	for i := 0; i < NumLandmarks; i++ {
		for _, f := range columnFieldNames {
			out = append(out, fmt.Sprintf("%c%d", f, i))
		}
	}
	return out
}()

// Columns returns the feature names in vector order: x0, y0, z0, v0, x1, ...
func Columns() []string {
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

func Vectorize(s Skeleton) (FeatureVector, error) {
	if len(s) != NumLandmarks {
		return FeatureVector{}, fmt.Errorf("%w: got %d landmarks, want %d", ErrMalformedSkeleton, len(s), NumLandmarks)
	}
	var v FeatureVector
	for i, lm := range s {
		base := i * FieldsPerPoint
		v[base] = lm.X
		v[base+1] = lm.Y
		v[base+2] = lm.Z
		v[base+3] = lm.Visibility
	}
	return v, nil
}

// Record maps column names to values, the shape persisted under the coord namespace.
func (v FeatureVector) Record() map[string]float64 {
	out := make(map[string]float64, FeatureLen)
	for i, name := range columns {
		out[name] = v[i]
	}
	return out
}

func (v FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureLen)
	copy(out, v[:])
	return out
}

func (s Skeleton) Points() []frame.Point {
	out := make([]frame.Point, len(s))
	for i, lm := range s {
		out[i] = frame.Point{X: lm.X, Y: lm.Y, Visibility: lm.Visibility}
	}
	return out
}
