package detector_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/detector"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

type fakeReader struct {
	loops map[string]entity.LoopStats
	edges map[string][]string
	calls int
}

func (r *fakeReader) LoopStats(id string) (entity.LoopStats, error) {
	r.calls++
	st, ok := r.loops[id]
	if !ok {
		return entity.LoopStats{}, fmt.Errorf("loop %s: %w", id, entity.ErrSensorUnavailable)
	}
	return st, nil
}

func (r *fakeReader) EdgeVehicleCount(string) (int, error) { return 0, nil }

func (r *fakeReader) LoopsOnEdge(edge string) ([]string, error) {
	loops, ok := r.edges[edge]
	if !ok {
		return nil, entity.ErrTransport
	}
	return loops, nil
}

func TestAggregateEmptyGroup(t *testing.T) {
	r := &fakeReader{}
	s := detector.Aggregate(r, detector.NewGroup("empty", nil, 0), 40)
	assert.Equal(t, detector.Stats{}, s)
	assert.Equal(t, 0, r.calls)
}

func TestAggregate(t *testing.T) {
	r := &fakeReader{loops: map[string]entity.LoopStats{
		"a": {IntervalCount: 10, IntervalOccupancy: 10, LastStepCount: 1, LastStepMeanSpeed: 20},
		"b": {IntervalCount: 6, IntervalOccupancy: 20, LastStepCount: 3, LastStepMeanSpeed: 28},
		"c": {IntervalCount: 4, IntervalOccupancy: 30, LastStepCount: 0, LastStepMeanSpeed: -1},
	}}
	s := detector.Aggregate(r, detector.NewGroup("g", []string{"a", "b", "c"}, 0), 40)
	// 20辆/40秒 -> 1800 veh/h
	assert.InDelta(t, 1800, s.Flow, 1e-9)
	assert.InDelta(t, 20, s.Occupancy, 1e-9)
	// (20*1 + 28*3) / 4
	assert.InDelta(t, 26, s.Speed, 1e-9)
	assert.Equal(t, 0, s.Failed)
}

func TestAggregateSkipsFailedLoops(t *testing.T) {
	r := &fakeReader{loops: map[string]entity.LoopStats{
		"a": {IntervalCount: 10, IntervalOccupancy: 12, LastStepCount: 2, LastStepMeanSpeed: 25},
	}}
	s := detector.Aggregate(r, detector.NewGroup("g", []string{"a", "broken"}, 0), 40)
	assert.InDelta(t, 900, s.Flow, 1e-9)
	assert.InDelta(t, 12, s.Occupancy, 1e-9)
	assert.InDelta(t, 25, s.Speed, 1e-9)
	assert.Equal(t, 1, s.Failed)

	s = detector.Aggregate(r, detector.NewGroup("g", []string{"x", "y"}, 0), 40)
	assert.Equal(t, detector.Stats{Failed: 2}, s)
}

func TestAggregateNoVehicles(t *testing.T) {
	r := &fakeReader{loops: map[string]entity.LoopStats{
		"a": {IntervalOccupancy: 0, LastStepMeanSpeed: -1},
	}}
	s := detector.Aggregate(r, detector.NewGroup("g", []string{"a"}, 0), 40)
	assert.Equal(t, detector.Stats{}, s)
}

func TestAggregateZeroWindow(t *testing.T) {
	r := &fakeReader{loops: map[string]entity.LoopStats{"a": {IntervalCount: 5, IntervalOccupancy: 8}}}
	s := detector.Aggregate(r, detector.NewGroup("g", []string{"a"}, 0), 0)
	assert.Equal(t, 0.0, s.Flow)
	assert.InDelta(t, 8, s.Occupancy, 1e-9)
}

func TestGroupIsImmutable(t *testing.T) {
	loops := []string{"a", "b"}
	g := detector.NewGroup("g", loops, 0)
	loops[0] = "z"
	assert.Equal(t, []string{"a", "b"}, g.Loops())
	g.Loops()[1] = "z"
	assert.Equal(t, []string{"a", "b"}, g.Loops())
}

func TestResolveGroup(t *testing.T) {
	r := &fakeReader{edges: map[string][]string{"end_main_road": {"d0", "d1", "d2"}}}
	g := detector.ResolveGroup(r, config.DetectorGroup{Name: "downstream", Edge: "end_main_road"})
	assert.Equal(t, []string{"d0", "d1", "d2"}, g.Loops())

	g = detector.ResolveGroup(r, config.DetectorGroup{Name: "merge", Loops: []string{"m0"}, Edge: "end_main_road"})
	assert.Equal(t, []string{"m0"}, g.Loops())

	g = detector.ResolveGroup(r, config.DetectorGroup{Name: "missing", Edge: "nowhere"})
	assert.Equal(t, 0, g.Len())
}

func TestQueueAccumulator(t *testing.T) {
	var q detector.QueueAccumulator
	for _, n := range []int{2, 4, 6, 8} {
		q.Add(n)
	}
	assert.Equal(t, 4, q.Ticks())
	assert.Equal(t, 8, q.Max())
	assert.InDelta(t, 5, q.Mean(4), 1e-9)
	assert.Equal(t, 0.0, q.Mean(0))
	q.Reset()
	assert.Equal(t, 0, q.Ticks())
	assert.Equal(t, 0.0, q.Mean(40))
}

func TestLayoutCollect(t *testing.T) {
	r := &fakeReader{
		loops: map[string]entity.LoopStats{
			"u0": {IntervalCount: 10, IntervalOccupancy: 10},
			"m0": {IntervalCount: 20, IntervalOccupancy: 30, LastStepCount: 1, LastStepMeanSpeed: 15},
			"d0": {IntervalCount: 30, IntervalOccupancy: 5},
		},
		edges: map[string][]string{"end_main_road": {"d0"}},
	}
	l := detector.NewLayout(r, config.Detectors{
		Upstream:   config.DetectorGroup{Name: config.GroupUpstream, Loops: []string{"u0"}},
		Merge:      config.DetectorGroup{Name: config.GroupMerge, Loops: []string{"m0"}},
		Downstream: config.DetectorGroup{Name: config.GroupDownstream, Edge: "end_main_road"},
		Probes:     []config.DetectorGroup{{Name: "merge_lane_0", Loops: []string{"m0", "gone"}}},
		RampEdge:   "on_ramp",
	})
	s := l.Collect(r, 40)
	assert.InDelta(t, 900, s.Upstream.Flow, 1e-9)
	assert.InDelta(t, 30, s.Merge.Occupancy, 1e-9)
	assert.InDelta(t, 2700, s.Downstream.Flow, 1e-9)
	assert.Equal(t, int32(-1), s.SignalPhase)
	assert.Equal(t, 1, s.FailedSensors())

	p, ok := s.Group("merge_lane_0")
	assert.True(t, ok)
	assert.InDelta(t, 15, p.Speed, 1e-9)
	m, ok := s.Group(config.GroupMerge)
	assert.True(t, ok)
	assert.Equal(t, s.Merge, m)
	_, ok = s.Group("unknown")
	assert.False(t, ok)
}
