package classify

import (
	"fmt"
	"math"
	"os"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"strzcam.com/posture/pose"
)

// modelFile is the export format of a fitted logistic regression. JSON exports
// load as well since YAML is a superset.
type modelFile struct {
	Classes      []string    `yaml:"classes"`
	Features     []string    `yaml:"features"`
	Coefficients [][]float64 `yaml:"coefficients"`
	Intercepts   []float64   `yaml:"intercepts"`
}

// LinearModel scores a feature vector with a logistic regression: sigmoid for
// a single coefficient row over two classes, softmax otherwise.
type LinearModel struct {
	domain    Domain
	classes   []string
	coef      *mat.Dense
	intercept *mat.VecDense
	binary    bool
}

func LoadLinearModel(path string, domain Domain) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s model: %w", domain, err)
	}
	var mf modelFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse %s model: %w", domain, err)
	}
	return NewLinearModel(domain, mf.Classes, mf.Features, mf.Coefficients, mf.Intercepts)
}

func NewLinearModel(domain Domain, classes, features []string, coefficients [][]float64, intercepts []float64) (*LinearModel, error) {
	if len(features) > 0 && !slices.Equal(features, pose.Columns()) {
		return nil, fmt.Errorf("%w: %s model was trained on different columns", ErrModelMismatch, domain)
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: %s model needs at least two classes", ErrModelMismatch, domain)
	}
	rows := len(coefficients)
	binary := rows == 1 && len(classes) == 2
	if !binary && rows != len(classes) {
		return nil, fmt.Errorf("%w: %d coefficient rows for %d classes", ErrModelMismatch, rows, len(classes))
	}
	if len(intercepts) != rows {
		return nil, fmt.Errorf("%w: %d intercepts for %d rows", ErrModelMismatch, len(intercepts), rows)
	}
	flat := make([]float64, 0, rows*pose.FeatureLen)
	for i, row := range coefficients {
		if len(row) != pose.FeatureLen {
			return nil, fmt.Errorf("%w: row %d has %d coefficients, want %d", ErrModelMismatch, i, len(row), pose.FeatureLen)
		}
		flat = append(flat, row...)
	}
	return &LinearModel{
		domain:    domain,
		classes:   slices.Clone(classes),
		coef:      mat.NewDense(rows, pose.FeatureLen, flat),
		intercept: mat.NewVecDense(rows, slices.Clone(intercepts)),
		binary:    binary,
	}, nil
}

func (m *LinearModel) Classes() []string {
	return slices.Clone(m.classes)
}

func (m *LinearModel) Predict(v pose.FeatureVector) (Diagnosis, error) {
	x := mat.NewVecDense(pose.FeatureLen, v.Slice())
	rows, _ := m.coef.Dims()
	z := mat.NewVecDense(rows, nil)
	z.MulVec(m.coef, x)
	z.AddVec(z, m.intercept)

	var probs []float64
	if m.binary {
		p := sigmoid(z.AtVec(0))
		probs = []float64{1 - p, p}
	} else {
		probs = softmax(z.RawVector().Data)
	}

	best := 0
	dist := make(map[string]float64, len(m.classes))
	for i, p := range probs {
		if math.IsNaN(p) {
			return Diagnosis{}, fmt.Errorf("%w: %s model produced NaN", ErrClassification, m.domain)
		}
		dist[m.classes[i]] = p
		if p > probs[best] {
			best = i
		}
	}
	return Diagnosis{Domain: m.domain, Label: m.classes[best], Probabilities: dist}, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		maxZ = math.Max(maxZ, v)
	}
	out := make([]float64, len(z))
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
