package scheduler

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		lr0     float64
		cfg     Config
		want    Kind
		wantErr bool
	}{
		{name: "step", kind: "step", lr0: 0.1, want: Step},
		{name: "alias plateau", kind: "plateau", lr0: 0.1, want: ReduceOnPlateau},
		{name: "alias onecycle", kind: "OneCycle", lr0: 0.1, want: OneCycle},
		{name: "unknown kind", kind: "warmup_magic", lr0: 0.1, wantErr: true},
		{name: "non-positive rate", kind: "step", lr0: 0, wantErr: true},
		{name: "custom without func", kind: "custom", lr0: 0.1, wantErr: true},
		{
			name: "custom with func",
			kind: "custom",
			lr0:  0.1,
			cfg:  Config{Func: func(s State) float64 { return s.InitialRate / 2 }},
			want: Custom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.kind, tt.lr0, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Kind)
			assert.Equal(t, tt.lr0, s.CurrentRate)
		})
	}
}

func TestNew_UnknownKindIsSentinel(t *testing.T) {
	_, err := New("bogus", 0.1, Config{})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestDefaults(t *testing.T) {
	s, err := New("exponential", 0.2, Config{TotalIterations: 500})
	require.NoError(t, err)

	cfg := s.Config()
	assert.Equal(t, 30, cfg.StepSize)
	assert.Equal(t, 0.95, cfg.Gamma)
	assert.Equal(t, 500, cfg.TMax)
	assert.Equal(t, 10, cfg.Patience)
	assert.Equal(t, 0.1, cfg.Factor)
	assert.InDelta(t, 2.0, cfg.MaxLR, 1e-12)
	assert.Equal(t, 1e4, cfg.FinalDivFactor)
}

func TestStep(t *testing.T) {
	s, err := New("step", 1.0, Config{StepSize: 10, Gamma: 0.5})
	require.NoError(t, err)

	assert.Equal(t, 1.0, s.Update(0, nil, nil))
	assert.Equal(t, 1.0, s.Update(9, nil, nil))
	assert.Equal(t, 0.5, s.Update(10, nil, nil))
	assert.Equal(t, 0.25, s.Update(25, nil, nil))
}

func TestExponential(t *testing.T) {
	s, err := New("exponential", 1.0, Config{Gamma: 0.9})
	require.NoError(t, err)

	for iter := 0; iter < 20; iter++ {
		assert.InDelta(t, math.Pow(0.9, float64(iter)), s.Update(iter, nil, nil), 1e-12)
	}
}

func TestCosine(t *testing.T) {
	s, err := New("cosine", 1.0, Config{TMax: 50, EtaMin: 0.1})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, s.RateAt(0), 1e-12)
	assert.InDelta(t, 0.55, s.RateAt(25), 1e-12)
	assert.InDelta(t, 0.1, s.RateAt(50), 1e-12)
}

func TestCosine_RestartsArePeriodic(t *testing.T) {
	const tMax = 17
	s, err := New("cosine", 0.3, Config{TMax: tMax, EtaMin: 0.001, Restarts: true})
	require.NoError(t, err)

	for iter := 0; iter < 3*tMax; iter++ {
		assert.InDelta(t, s.RateAt(iter), s.RateAt(iter+tMax), 1e-12, "iteration %d", iter)
	}
}

func TestReduceOnPlateau(t *testing.T) {
	s, err := New("reduce_on_plateau", 1.0, Config{Patience: 2, Factor: 0.5, MinLR: 0.2})
	require.NoError(t, err)

	m := &Metrics{Loss: 1.0}

	// First loss becomes the best; the next two stall but stay within patience.
	assert.Equal(t, 1.0, s.Update(0, nil, m))
	assert.Equal(t, 0, s.PatienceCounter)
	assert.Equal(t, 1.0, s.Update(1, nil, m))
	assert.Equal(t, 1.0, s.Update(2, nil, m))
	assert.Equal(t, 2, s.PatienceCounter)

	// Patience exceeded: exactly one reduction, counter reset.
	assert.Equal(t, 0.5, s.Update(3, nil, m))
	assert.Equal(t, 0, s.PatienceCounter)

	assert.Equal(t, 0.5, s.Update(4, nil, m))
	assert.Equal(t, 0.5, s.Update(5, nil, m))
	assert.Equal(t, 0.25, s.Update(6, nil, m))

	// Floored at MinLR.
	for iter := 7; iter <= 9; iter++ {
		s.Update(iter, nil, m)
	}
	assert.Equal(t, 0.2, s.CurrentRate)

	assert.Len(t, s.LossHistory, 10)
	assert.Equal(t, 1.0, s.BestLoss)
}

func TestReduceOnPlateau_ImprovementResetsCounter(t *testing.T) {
	s, err := New("reduce_on_plateau", 1.0, Config{Patience: 1})
	require.NoError(t, err)

	s.Update(0, nil, &Metrics{Loss: 5})
	s.Update(1, nil, &Metrics{Loss: 5})
	assert.Equal(t, 1, s.PatienceCounter)

	s.Update(2, nil, &Metrics{Loss: 4})
	assert.Equal(t, 0, s.PatienceCounter)
	assert.Equal(t, 4.0, s.BestLoss)
	assert.Equal(t, 1.0, s.CurrentRate)
}

func TestReduceOnPlateau_NoMetricsLeavesRate(t *testing.T) {
	s, err := New("reduce_on_plateau", 0.3, Config{Patience: 1})
	require.NoError(t, err)

	for iter := 0; iter < 10; iter++ {
		assert.Equal(t, 0.3, s.Update(iter, nil, nil))
	}
	assert.Empty(t, s.LossHistory)
}

func TestOneCycle(t *testing.T) {
	s, err := New("one_cycle", 0.1, Config{MaxLR: 1.0, CycleLength: 20, TotalIterations: 30, FinalDivFactor: 100})
	require.NoError(t, err)

	assert.InDelta(t, 0.1, s.RateAt(0), 1e-12)
	assert.InDelta(t, 0.55, s.RateAt(5), 1e-12)
	assert.InDelta(t, 1.0, s.RateAt(10), 1e-12)
	assert.InDelta(t, 0.55, s.RateAt(15), 1e-12)
	assert.InDelta(t, 0.1, s.RateAt(20), 1e-12)
	assert.InDelta(t, 0.001, s.RateAt(30), 1e-12)
	assert.InDelta(t, 0.001, s.RateAt(100), 1e-12)

	// Monotone decay after the cycle.
	prev := s.RateAt(20)
	for iter := 21; iter <= 30; iter++ {
		r := s.RateAt(iter)
		assert.Less(t, r, prev)
		prev = r
	}
}

func TestCustom(t *testing.T) {
	s, err := New("custom", 1.0, Config{Func: func(st State) float64 {
		return st.InitialRate / float64(st.Iteration+1)
	}})
	require.NoError(t, err)

	assert.Equal(t, 1.0, s.Update(0, nil, nil))
	assert.Equal(t, 0.25, s.Update(3, nil, nil))
}

func TestUpdate_Epoch(t *testing.T) {
	s, err := New("step", 1.0, Config{})
	require.NoError(t, err)

	epoch := 4
	s.Update(12, &epoch, nil)
	assert.Equal(t, 4, s.Epoch)
	assert.Equal(t, 12, s.Iteration)
}
