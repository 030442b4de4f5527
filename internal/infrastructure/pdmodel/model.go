package pdmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidModel is returned for artifacts that cannot score a birth year.
var ErrInvalidModel = errors.New("invalid PD model")

// LogisticModel is a single-feature logistic regression exported from the
// training pipeline. The feature is the borrower's birth year, optionally
// standardized with Mean and Scale.
type LogisticModel struct {
	FeatureNames []string  `json:"feature_names" msgpack:"feature_names"`
	Coefficients []float64 `json:"coefficients" msgpack:"coefficients"`
	Intercept    float64   `json:"intercept" msgpack:"intercept"`
	Mean         float64   `json:"mean,omitempty" msgpack:"mean,omitempty"`
	Scale        float64   `json:"scale,omitempty" msgpack:"scale,omitempty"`
}

// Validate checks the artifact has exactly one finite coefficient.
func (m LogisticModel) Validate() error {
	if len(m.Coefficients) != 1 {
		return fmt.Errorf("%w: expected 1 coefficient, got %d", ErrInvalidModel, len(m.Coefficients))
	}
	for _, v := range []float64{m.Coefficients[0], m.Intercept, m.Mean, m.Scale} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite parameter", ErrInvalidModel)
		}
	}
	if m.Scale < 0 {
		return fmt.Errorf("%w: negative scale", ErrInvalidModel)
	}
	return nil
}

// Feature returns the name of the scored feature.
func (m LogisticModel) Feature() string {
	if len(m.FeatureNames) > 0 {
		return m.FeatureNames[0]
	}
	return "year_of_birth"
}

// Probability returns the positive-class probability for x.
func (m LogisticModel) Probability(x float64) float64 {
	if m.Scale > 0 {
		x = (x - m.Mean) / m.Scale
	}
	z := m.Intercept + m.Coefficients[0]*x
	return 1 / (1 + math.Exp(-z))
}

// Decode parses an artifact, choosing the encoding from the name's extension.
func Decode(name string, data []byte) (LogisticModel, error) {
	var (
		m   LogisticModel
		err error
	)
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".json":
		err = json.Unmarshal(data, &m)
	case ".msgpack", ".mpk":
		err = msgpack.Unmarshal(data, &m)
	default:
		return LogisticModel{}, fmt.Errorf("%w: unsupported artifact extension %q", ErrInvalidModel, ext)
	}
	if err != nil {
		return LogisticModel{}, fmt.Errorf("%w: decode %s: %w", ErrInvalidModel, name, err)
	}
	if err := m.Validate(); err != nil {
		return LogisticModel{}, err
	}
	return m, nil
}
