package classify

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"strzcam.com/posture/pose"
)

func row(values map[int]float64) []float64 {
	out := make([]float64, pose.FeatureLen)
	for i, v := range values {
		out[i] = v
	}
	return out
}

func TestLinearModelBinary(t *testing.T) {
	// positive weight on x0 favours "Baik"
	m, err := NewLinearModel(Sit, []string{"Buruk", "Baik"}, pose.Columns(), [][]float64{row(map[int]float64{0: 10})}, []float64{-5})
	if err != nil {
		t.Fatal(err)
	}
	var v pose.FeatureVector
	v[0] = 1
	d, err := m.Predict(v)
	if err != nil {
		t.Fatal(err)
	}
	if d.Label != "Baik" || d.Domain != Sit {
		t.Fatalf("got %+v", d)
	}
	if sum := d.Probabilities["Baik"] + d.Probabilities["Buruk"]; math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v", sum)
	}

	v[0] = 0
	d, _ = m.Predict(v)
	if d.Label != "Buruk" {
		t.Errorf("expected Buruk for x0=0, got %s", d.Label)
	}
}

func TestLinearModelMultinomial(t *testing.T) {
	classes := []string{"Lurus", "Bungkuk", "Miring"}
	coef := [][]float64{
		row(map[int]float64{1: 4}),
		row(map[int]float64{5: 4}),
		row(map[int]float64{9: 4}),
	}
	m, err := NewLinearModel(Spine, classes, nil, coef, []float64{0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	var v pose.FeatureVector
	v[5] = 1
	d, err := m.Predict(v)
	if err != nil {
		t.Fatal(err)
	}
	if d.Label != "Bungkuk" {
		t.Fatalf("label = %s", d.Label)
	}
	var sum float64
	for _, c := range classes {
		p, ok := d.Probabilities[c]
		if !ok {
			t.Fatalf("missing probability for %s", c)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v", sum)
	}
}

func TestLinearModelMismatch(t *testing.T) {
	good := [][]float64{row(nil)}
	tests := []struct {
		name     string
		classes  []string
		features []string
		coef     [][]float64
		icpt     []float64
	}{
		{"reordered columns", []string{"a", "b"}, append(pose.Columns()[1:], "x0"), good, []float64{0}},
		{"single class", []string{"a"}, nil, good, []float64{0}},
		{"row count", []string{"a", "b", "c"}, nil, good, []float64{0}},
		{"intercepts", []string{"a", "b"}, nil, good, []float64{0, 1}},
		{"short row", []string{"a", "b"}, nil, [][]float64{make([]float64, 10)}, []float64{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLinearModel(Spine, tt.classes, tt.features, tt.coef, tt.icpt)
			if !errors.Is(err, ErrModelMismatch) {
				t.Fatalf("expected ErrModelMismatch, got %v", err)
			}
		})
	}
}

func TestLoadLinearModel(t *testing.T) {
	dir := t.TempDir()
	mf := modelFile{
		Classes:      []string{"Buruk", "Baik"},
		Features:     pose.Columns(),
		Coefficients: [][]float64{row(map[int]float64{3: 2})},
		Intercepts:   []float64{0.5},
	}
	data, err := yaml.Marshal(mf)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "sit.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadLinearModel(path, Sit)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(m.Classes(), ","); got != "Buruk,Baik" {
		t.Errorf("classes = %s", got)
	}

	if _, err := LoadLinearModel(filepath.Join(dir, "missing.yaml"), Sit); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestAdvisor(t *testing.T) {
	a := DefaultAdvisor()
	if got := a.Suggest("Baik"); got != DefaultKeepMessage {
		t.Errorf("Baik -> %q", got)
	}
	for _, label := range []string{"baik", "Buruk", DefaultUnavailable, ""} {
		if got := a.Suggest(label); got != DefaultCorrectMessage {
			t.Errorf("%q -> %q", label, got)
		}
	}
}
