package regularization

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		cfg     Config
		want    Kind
		wantErr bool
	}{
		{name: "l1", kind: "l1", want: L1},
		{name: "ridge alias", kind: "ridge", want: L2},
		{name: "smoothed l1 alias", kind: "smoothed_l1", want: Huber},
		{name: "unknown", kind: "dropout", wantErr: true},
		{name: "negative strength", kind: "l2", cfg: Config{Strength: ptr.To(-1.0)}, wantErr: true},
		{name: "bad ratio", kind: "elastic_net", cfg: Config{L1Ratio: ptr.To(1.5)}, wantErr: true},
		{name: "bad shape", kind: "orthogonal", cfg: Config{Shapes: []Shape{{Rows: 0, Cols: 2}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.kind, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Kind)
		})
	}

	_, err := New("dropout", Config{})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestNew_Defaults(t *testing.T) {
	r, err := New("elastic_net", Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultStrength, r.Strength)
	assert.Equal(t, defaultL1Ratio, r.L1Ratio)
	assert.Equal(t, defaultDelta, r.Config.Delta)
}

func TestNew_ExplicitZero(t *testing.T) {
	params := []float64{1, -2, 0.5}

	pureL2, err := New("elastic_net", Config{Strength: ptr.To(1.0), L1Ratio: ptr.To(0.0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, pureL2.L1Ratio)

	l2, err := New("l2", Config{Strength: ptr.To(1.0)})
	require.NoError(t, err)
	assert.Equal(t, l2.Compute(params), pureL2.Compute(params))

	off, err := New("l1", Config{Strength: ptr.To(0.0)})
	require.NoError(t, err)
	p := off.Compute(params)
	assert.Equal(t, 0.0, p.Value)
	assert.Equal(t, []float64{0, 0, 0}, p.Gradients)
}

func TestCompute_Values(t *testing.T) {
	params := []float64{1, -2, 0.5}

	tests := []struct {
		name     string
		kind     string
		cfg      Config
		value    float64
		gradient []float64
	}{
		{
			name:     "l1",
			kind:     "l1",
			cfg:      Config{Strength: ptr.To(1.0)},
			value:    3.5,
			gradient: []float64{1, -1, 1},
		},
		{
			name:     "l2",
			kind:     "l2",
			cfg:      Config{Strength: ptr.To(2.0)},
			value:    5.25,
			gradient: []float64{2, -4, 1},
		},
		{
			name:     "huber",
			kind:     "huber",
			cfg:      Config{Strength: ptr.To(1.0), Delta: 1},
			value:    0.5 + 1.5 + 0.125,
			gradient: []float64{1, -1, 0.5},
		},
		{
			name:     "group lasso without groups is l2",
			kind:     "group_lasso",
			cfg:      Config{Strength: ptr.To(1.0)},
			value:    2.625,
			gradient: []float64{1, -2, 0.5},
		},
		{
			name:     "group lasso",
			kind:     "group_lasso",
			cfg:      Config{Strength: ptr.To(1.0), Groups: [][]int{{0, 1}, {2}}},
			value:    math.Sqrt(5) + 0.5,
			gradient: []float64{1 / math.Sqrt(5), -2 / math.Sqrt(5), 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.kind, tt.cfg)
			require.NoError(t, err)

			p := r.Compute(params)
			assert.InDelta(t, tt.value, p.Value, 1e-12)
			assert.InDeltaSlice(t, tt.gradient, p.Gradients, 1e-12)
		})
	}
}

func TestCompute_Nil(t *testing.T) {
	var r *Regularizer
	p := r.Compute([]float64{1, 2, 3})
	assert.Zero(t, p.Value)
	assert.Equal(t, []float64{0, 0, 0}, p.Gradients)
}

func TestCompute_OrthogonalIdentityIsZero(t *testing.T) {
	r, err := New("orthogonal", Config{Strength: ptr.To(1.0), Shapes: []Shape{{Rows: 2, Cols: 2}}})
	require.NoError(t, err)

	p := r.Compute([]float64{1, 0, 0, 1, 7})
	assert.InDelta(t, 0, p.Value, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0, 0}, p.Gradients, 1e-12)
}

func TestCompute_NuclearExactDiagonal(t *testing.T) {
	r, err := New("nuclear_norm", Config{Strength: ptr.To(1.0), Exact: true, Shapes: []Shape{{Rows: 2, Cols: 2}}})
	require.NoError(t, err)

	p := r.Compute([]float64{3, 0, 0, -2})
	assert.InDelta(t, 5, p.Value, 1e-9)
}

// Every gradient must agree with a central difference of the penalty.
func TestCompute_GradientMatchesNumerical(t *testing.T) {
	tests := []struct {
		name string
		kind string
		cfg  Config
		n    int
	}{
		{name: "l1", kind: "l1", n: 8},
		{name: "l2", kind: "l2", n: 8},
		{name: "elastic net", kind: "elastic_net", cfg: Config{L1Ratio: ptr.To(0.3)}, n: 8},
		{name: "group lasso", kind: "group_lasso", cfg: Config{Groups: [][]int{{0, 1, 2}, {3, 4}, {5, 6, 7}}}, n: 8},
		{name: "group lasso no groups", kind: "group_lasso", n: 8},
		{name: "huber", kind: "huber", cfg: Config{Delta: 0.5}, n: 8},
		{name: "orthogonal vector", kind: "orthogonal", n: 6},
		{name: "orthogonal shapes", kind: "orthogonal", cfg: Config{Shapes: []Shape{{Rows: 3, Cols: 2}, {Rows: 2, Cols: 2}}}, n: 11},
		{name: "nuclear frobenius", kind: "nuclear_norm", cfg: Config{Shapes: []Shape{{Rows: 2, Cols: 3}}}, n: 6},
		{name: "nuclear exact", kind: "nuclear_norm", cfg: Config{Exact: true, Shapes: []Shape{{Rows: 3, Cols: 2}}}, n: 6},
	}

	rng := rand.New(rand.NewSource(42))
	const h = 1e-6

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Strength = ptr.To(0.7)
			r, err := New(tt.kind, tt.cfg)
			require.NoError(t, err)
			require.NoError(t, r.Validate(tt.n))

			for trial := 0; trial < 5; trial++ {
				params := make([]float64, tt.n)
				for i := range params {
					params[i] = rng.Float64()*4 - 2
				}

				got := r.Compute(params).Gradients
				for i := range params {
					orig := params[i]
					params[i] = orig + h
					fp := r.Compute(params).Value
					params[i] = orig - h
					fm := r.Compute(params).Value
					params[i] = orig

					assert.InDelta(t, (fp-fm)/(2*h), got[i], 1e-4, "trial %d index %d", trial, i)
				}
			}
		})
	}
}

func TestValidate(t *testing.T) {
	r, err := New("group_lasso", Config{Groups: [][]int{{0, 5}}})
	require.NoError(t, err)
	assert.Error(t, r.Validate(3))
	assert.NoError(t, r.Validate(6))

	r, err = New("orthogonal", Config{Shapes: []Shape{{Rows: 2, Cols: 3}}})
	require.NoError(t, err)
	assert.Error(t, r.Validate(5))
	assert.NoError(t, r.Validate(6))
}
