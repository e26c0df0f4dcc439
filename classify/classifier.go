package classify

import (
	"errors"

	"strzcam.com/posture/pose"
)

type Domain string

const (
	Spine Domain = "spine"
	Sit   Domain = "sit"
)

var (
	ErrClassification = errors.New("classification failed")
	ErrModelMismatch  = errors.New("model does not match feature layout")
)

// Diagnosis is one classifier verdict for one frame.
type Diagnosis struct {
	Domain        Domain             `json:"domain"`
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Classifier maps a feature vector to a label and a distribution over labels.
type Classifier interface {
	Predict(v pose.FeatureVector) (Diagnosis, error)
}

type ClassifierFunc func(v pose.FeatureVector) (Diagnosis, error)

func (fn ClassifierFunc) Predict(v pose.FeatureVector) (Diagnosis, error) {
	return fn(v)
}

// Unavailable builds the placeholder diagnosis reported before the first frame.
func Unavailable(domain Domain, label string) Diagnosis {
	return Diagnosis{Domain: domain, Label: label, Probabilities: map[string]float64{}}
}
