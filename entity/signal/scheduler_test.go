package signal_test

import (
	"testing"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/signal"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

type call struct {
	name  string
	phase int32
	dur   float64
}

type fakeSignals struct {
	ids   []string
	calls []call
	fail  bool
}

func (f *fakeSignals) SignalIDs() []string { return f.ids }

func (f *fakeSignals) SignalPhase(string) (int32, error) { return 0, nil }

func (f *fakeSignals) SetSignalPhase(_ string, phase int32) error {
	f.calls = append(f.calls, call{name: "phase", phase: phase})
	if f.fail {
		return entity.ErrTransport
	}
	return nil
}

func (f *fakeSignals) SetPhaseDuration(_ string, d float64) error {
	f.calls = append(f.calls, call{name: "duration", dur: d})
	return nil
}

var signalConfig = config.Signal{GreenPhase: 0, RedPhase: 1}

func TestNewTiming(t *testing.T) {
	for _, green := range []float64{-5, 0, 3, 10, 39.5, 40, 55} {
		tm := signal.NewTiming(green, 40)
		assert.InDelta(t, 40, tm.Green+tm.Red, 1e-9, "green=%v", green)
		assert.GreaterOrEqual(t, tm.Green, 0.)
		assert.GreaterOrEqual(t, tm.Red, 0.)
	}
	assert.Equal(t, signal.Timing{Green: 10, Red: 30}, signal.NewTiming(10, 40))
}

func TestSchedulerInitialState(t *testing.T) {
	f := &fakeSignals{ids: []string{"J1"}}
	s := signal.NewScheduler(f, signalConfig, 40)
	assert.True(t, s.Enabled())
	assert.Equal(t, "J1", s.TLID())
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, s.State())
	assert.Equal(t, 40.0, s.RemainingTime())

	require.NoError(t, s.Reset())
	assert.Equal(t, []call{{name: "phase", phase: 1}, {name: "duration", dur: 40}}, f.calls)
}

func TestSchedulerCycle(t *testing.T) {
	f := &fakeSignals{ids: []string{"J1"}}
	s := signal.NewScheduler(f, signalConfig, 40)
	require.NoError(t, s.Reset())
	f.calls = nil
	// 复位时下发的命令也计入累计数
	reset := s.Commands()
	assert.Equal(t, 2, reset)

	tm, err := s.StartCycle(signal.NewTiming(10, 40))
	require.NoError(t, err)
	assert.Equal(t, signal.Timing{Green: 10, Red: 30}, tm)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, s.State())
	assert.Equal(t, []call{{name: "phase", phase: 0}, {name: "duration", dur: 10}}, f.calls)

	greenTicks := 0
	for range 40 {
		if s.State() == mapv2.LightState_LIGHT_STATE_GREEN {
			greenTicks++
		}
		require.NoError(t, s.Update(1))
	}
	assert.Equal(t, 10, greenTicks)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, s.State())
	assert.Equal(t, []call{
		{name: "phase", phase: 0}, {name: "duration", dur: 10},
		{name: "phase", phase: 1}, {name: "duration", dur: 30},
	}, f.calls)

	// 红灯段显式开始时已经是红灯，不再下发命令
	require.NoError(t, s.BeginRed())
	assert.Len(t, f.calls, 4)
	assert.Equal(t, reset+4, s.Commands())
}

func TestSchedulerIdempotentPhase(t *testing.T) {
	f := &fakeSignals{ids: []string{"J1"}}
	s := signal.NewScheduler(f, signalConfig, 40)
	require.NoError(t, s.Reset())
	f.calls = nil

	_, err := s.StartCycle(signal.NewTiming(40, 40))
	require.NoError(t, err)
	assert.Equal(t, []call{{name: "phase", phase: 0}, {name: "duration", dur: mathutil.INF}}, f.calls)
	for range 40 {
		require.NoError(t, s.Update(1))
	}
	_, err = s.StartCycle(signal.NewTiming(40, 40))
	require.NoError(t, err)
	require.NoError(t, s.BeginRed())
	assert.Len(t, f.calls, 2)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, s.State())
}

func TestSchedulerZeroGreen(t *testing.T) {
	f := &fakeSignals{ids: []string{"J1"}}
	s := signal.NewScheduler(f, signalConfig, 40)
	require.NoError(t, s.Reset())
	f.calls = nil

	_, err := s.StartCycle(signal.NewTiming(0, 40))
	require.NoError(t, err)
	// 复位后已经是红灯
	assert.Empty(t, f.calls)
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, s.State())
}

func TestSchedulerWithoutSignal(t *testing.T) {
	f := &fakeSignals{}
	s := signal.NewScheduler(f, signalConfig, 40)
	assert.False(t, s.Enabled())
	require.NoError(t, s.Reset())
	_, err := s.StartCycle(signal.NewTiming(10, 40))
	require.NoError(t, err)
	for range 40 {
		require.NoError(t, s.Update(1))
	}
	assert.Empty(t, f.calls)
	assert.Equal(t, 0, s.Commands())
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, s.State())
}

func TestSchedulerUnknownConfiguredSignal(t *testing.T) {
	f := &fakeSignals{ids: []string{"J1"}}
	s := signal.NewScheduler(f, config.Signal{ID: "J9", GreenPhase: 0, RedPhase: 1}, 40)
	assert.False(t, s.Enabled())
}

func TestSchedulerSwitchedOff(t *testing.T) {
	f := &fakeSignals{ids: []string{"J1"}}
	s := signal.NewScheduler(f, signalConfig, 40)
	require.NoError(t, s.Reset())
	s.SetOk(false)
	// 关闭在下一个周期开始时生效
	assert.True(t, s.Ok())

	tm, err := s.StartCycle(signal.NewTiming(10, 40))
	require.NoError(t, err)
	assert.False(t, s.Ok())
	assert.Equal(t, signal.Timing{Green: 40}, tm)
	for range 40 {
		require.NoError(t, s.Update(1))
	}
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, s.State())
}

func TestSchedulerCommandError(t *testing.T) {
	f := &fakeSignals{ids: []string{"J1"}, fail: true}
	s := signal.NewScheduler(f, signalConfig, 40)
	_, err := s.StartCycle(signal.NewTiming(10, 40))
	assert.ErrorIs(t, err, entity.ErrTransport)
}
