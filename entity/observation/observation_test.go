package observation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/detector"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/observation"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

func newBuilder(t *testing.T, probes int) *observation.Builder {
	t.Helper()
	rc, err := config.NewRuntimeConfig(config.Config{Detectors: config.Detectors{RampEdge: "on_ramp"}})
	require.NoError(t, err)
	layout := detector.Layout{
		Upstream:   detector.NewGroup(config.GroupUpstream, []string{"u0"}, 5490),
		Merge:      detector.NewGroup(config.GroupMerge, []string{"m0"}, 5490),
		Downstream: detector.NewGroup(config.GroupDownstream, []string{"d0"}, 5760),
	}
	for range probes {
		layout.Probes = append(layout.Probes, detector.NewGroup("probe", []string{"p0"}, 1900))
	}
	return observation.NewBuilder(layout, rc)
}

func TestSpillback(t *testing.T) {
	assert.InDelta(t, -1.0, observation.Spillback(25, 25, 0.9), 1e-9)
	assert.InDelta(t, 0.0, observation.Spillback(22.5, 25, 0.9), 1e-9)
	assert.Equal(t, 0.0, observation.Spillback(0, 25, 0.9))
	assert.InDelta(t, -0.5, observation.Spillback(23.75, 25, 0.9), 1e-9)
	assert.InDelta(t, -1.0, observation.Spillback(40, 25, 0.9), 1e-9)
	assert.Equal(t, 0.0, observation.Spillback(10, 0, 0.9))
}

func TestObservation(t *testing.T) {
	b := newBuilder(t, 1)
	assert.Equal(t, 14, b.Size())
	s := detector.Snapshot{
		Upstream:   detector.Stats{Flow: 2745, Occupancy: 20, Speed: 35},
		Merge:      detector.Stats{Flow: 9000, Occupancy: 150, Speed: 70},
		Downstream: detector.Stats{Flow: 2880, Occupancy: 10, Speed: 17.5},
		Probes:     []detector.GroupStats{{Name: "probe", Stats: detector.Stats{Flow: 950, Occupancy: 5, Speed: 7}}},
		RampQueue:  12.5,
	}
	obs := b.Observation(s, 10)
	want := []float64{
		0.5, 0.2, 1,
		1, 1, 1,
		0.5, 0.1, 0.5,
		0.5, 0.05, 0.2,
		0.5, 0.25,
	}
	require.Len(t, obs, len(want))
	for i := range want {
		assert.InDelta(t, want[i], obs[i], 1e-9, "index %d", i)
		assert.GreaterOrEqual(t, obs[i], 0.)
		assert.LessOrEqual(t, obs[i], 1.)
	}
}

func TestObservationMissingProbe(t *testing.T) {
	b := newBuilder(t, 2)
	obs := b.Observation(detector.Snapshot{RampQueue: -3}, 60)
	require.Len(t, obs, b.Size())
	assert.Equal(t, 0.0, obs[len(obs)-2])
	assert.Equal(t, 1.0, obs[len(obs)-1])
}

func TestReward(t *testing.T) {
	b := newBuilder(t, 0)
	s := detector.Snapshot{
		Upstream:   detector.Stats{Occupancy: 10, Speed: 35},
		Merge:      detector.Stats{Occupancy: 50, Speed: 17.5},
		Downstream: detector.Stats{Speed: 35},
		RampQueue:  5,
	}
	r := b.Reward(s)
	assert.InDelta(t, 0.75, r.MergeSpeed, 1e-9)
	assert.InDelta(t, 1.0, r.UpstreamSpeed, 1e-9)
	assert.InDelta(t, 0.5, r.DownstreamSpeed, 1e-9)
	assert.InDelta(t, -1.0, r.MergeOccupancy, 1e-9)
	assert.InDelta(t, -0.1, r.UpstreamOccupancy, 1e-9)
	assert.InDelta(t, -0.2, r.RampQueue, 1e-9)
	assert.Equal(t, 0.0, r.Spillback)
	assert.InDelta(t, 0.95, r.Total, 1e-9)

	// 排队接近上限时溢出项压过其余各项
	s.RampQueue = 25
	r = b.Reward(s)
	assert.InDelta(t, -20, r.Spillback, 1e-9)
	assert.Less(t, r.Total, 0.)
}
