package randengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/randengine"
)

func TestDiscreteDistribution(t *testing.T) {
	e := randengine.New(1)
	counts := make([]int, 3)
	for range 10000 {
		counts[e.DiscreteDistribution([]float64{0.2, 0, 0.8})]++
	}
	assert.Equal(t, 0, counts[1])
	assert.InDelta(t, 2000, counts[0], 300)
	assert.InDelta(t, 8000, counts[2], 300)

	assert.Panics(t, func() { e.DiscreteDistribution([]float64{0, 0}) })
}

func TestPoisson(t *testing.T) {
	e := randengine.New(7)
	assert.Equal(t, 0, e.Poisson(0))
	assert.Equal(t, 0, e.Poisson(-1))
	for _, lambda := range []float64{0.5, 4, 75} {
		sum := 0
		n := 5000
		for range n {
			k := e.Poisson(lambda)
			assert.GreaterOrEqual(t, k, 0)
			sum += k
		}
		assert.InDelta(t, lambda, float64(sum)/float64(n), lambda*0.05+0.05, "lambda=%v", lambda)
	}
}

func TestReseed(t *testing.T) {
	e := randengine.New(3)
	a := []float64{e.Float64(), e.Float64()}
	e.Reseed(3)
	assert.Equal(t, a, []float64{e.Float64(), e.Float64()})
}
