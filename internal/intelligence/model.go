package intelligence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/infrasage/infrasage/internal/models"
)

const (
	// minSamples is the number of observations before a model replaces the
	// fallback formula.
	minSamples = 5

	// ridgeLambda penalizes the slope coefficients (never the intercept).
	ridgeLambda = 1.0

	nFeatures = 3 // intercept, users, data volume
)

// ErrNonFiniteSample is returned by Update for NaN or infinite inputs.
var ErrNonFiniteSample = errors.New("non-finite sample")

// Fallback formulas used until a model has enough samples.
func fallbackCost(f models.Features) float64 {
	return 50 + 0.01*nonNegative(f.Users) + 0.1*nonNegative(f.DataVolume)
}

func fallbackExecutionTime(f models.Features) float64 {
	return 100 + 0.001*nonNegative(f.Users) + 0.5*nonNegative(f.DataVolume)
}

// RegressionModel is an online least-squares model over
// [1, users, data_volume] with a small ridge penalty. It keeps only the
// sufficient statistics XᵀX and Xᵀy, so updates are O(1) and the state is a
// few numbers.
type RegressionModel struct {
	name     string
	fallback func(models.Features) float64

	n   int
	xtx [nFeatures][nFeatures]float64
	xty [nFeatures]float64
}

// NewCostModel returns an empty monthly-cost model.
func NewCostModel() *RegressionModel {
	return &RegressionModel{name: "cost", fallback: fallbackCost}
}

// NewExecutionTimeModel returns an empty execution-time model (ms).
func NewExecutionTimeModel() *RegressionModel {
	return &RegressionModel{name: "execution_time", fallback: fallbackExecutionTime}
}

// Name identifies the model in logs and metrics.
func (m *RegressionModel) Name() string { return m.name }

// Samples returns the number of observations learned.
func (m *RegressionModel) Samples() int { return m.n }

// Trained reports whether predictions come from the regression.
func (m *RegressionModel) Trained() bool { return m.n >= minSamples }

func featureVector(f models.Features) [nFeatures]float64 {
	return [nFeatures]float64{1, f.Users, f.DataVolume}
}

// Update adds one (features, target) observation.
func (m *RegressionModel) Update(f models.Features, target float64) error {
	if !isFinite(f.Users) || !isFinite(f.DataVolume) || !isFinite(target) {
		return fmt.Errorf("%s model: %w", m.name, ErrNonFiniteSample)
	}
	x := featureVector(f)
	for i := 0; i < nFeatures; i++ {
		for j := 0; j < nFeatures; j++ {
			m.xtx[i][j] += x[i] * x[j]
		}
		m.xty[i] += x[i] * target
	}
	m.n++
	return nil
}

// Predict returns the regression estimate once trained and the fallback
// formula otherwise. The result is always finite and non-negative.
func (m *RegressionModel) Predict(f models.Features) float64 {
	fb := m.fallback(f)
	if !m.Trained() || !isFinite(f.Users) || !isFinite(f.DataVolume) {
		return fb
	}
	beta, ok := m.coefficients()
	if !ok {
		return fb
	}
	x := featureVector(f)
	var y float64
	for i := range x {
		y += beta[i] * x[i]
	}
	if !isFinite(y) {
		return fb
	}
	return nonNegative(y)
}

// coefficients solves (XᵀX + λD)β = Xᵀy by Gaussian elimination with partial
// pivoting, where D zeroes the intercept penalty.
func (m *RegressionModel) coefficients() ([nFeatures]float64, bool) {
	var a [nFeatures][nFeatures + 1]float64
	for i := 0; i < nFeatures; i++ {
		for j := 0; j < nFeatures; j++ {
			a[i][j] = m.xtx[i][j]
		}
		if i > 0 {
			a[i][i] += ridgeLambda
		}
		a[i][nFeatures] = m.xty[i]
	}

	for col := 0; col < nFeatures; col++ {
		pivot := col
		for r := col + 1; r < nFeatures; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [nFeatures]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := col + 1; r < nFeatures; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c <= nFeatures; c++ {
				a[r][c] -= factor * a[col][c]
			}
		}
	}

	var beta [nFeatures]float64
	for i := nFeatures - 1; i >= 0; i-- {
		sum := a[i][nFeatures]
		for j := i + 1; j < nFeatures; j++ {
			sum -= a[i][j] * beta[j]
		}
		beta[i] = sum / a[i][i]
		if !isFinite(beta[i]) {
			return [nFeatures]float64{}, false
		}
	}
	return beta, true
}

// Clone returns an independent copy.
func (m *RegressionModel) Clone() *RegressionModel {
	c := *m
	return &c
}

type modelState struct {
	N   int                           `json:"n"`
	XtX [nFeatures][nFeatures]float64 `json:"xtx"`
	XtY [nFeatures]float64            `json:"xty"`
}

// MarshalJSON encodes the sufficient statistics.
func (m *RegressionModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(modelState{N: m.n, XtX: m.xtx, XtY: m.xty})
}

// UnmarshalJSON restores the sufficient statistics; the model keeps its
// name and fallback.
func (m *RegressionModel) UnmarshalJSON(data []byte) error {
	var s modelState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.N < 0 {
		return fmt.Errorf("%s model: negative sample count %d", m.name, s.N)
	}
	m.n, m.xtx, m.xty = s.N, s.XtX, s.XtY
	return nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func nonNegative(v float64) float64 {
	if !isFinite(v) || v < 0 {
		return 0
	}
	return v
}
