// 参考仿真器：单匝道合流的点排队模型，实现控制循环需要的仿真器接口
// 主线与匝道按泊松过程到达，合流区为点排队瓶颈，检测区域的密度与速度由格林希尔治模型给出
package queuesim

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/randengine"
)

var _ entity.ISimulator = (*Simulator)(nil)

const (
	mainLanes  = 3
	mergeLanes = 4
	// 信号灯程序中每个相位的默认时长（秒），外部没有设置时长时按程序轮换
	programPhaseTime = 20.
)

// signalRuntime 匝道信号灯运行时数据
type signalRuntime struct {
	phase      int32
	remainingT float64
}

// Simulator 参考仿真器
type Simulator struct {
	c        config.Simulator
	dt       float64
	duration float64 // 需求持续时长（秒）
	rng      *randengine.Engine
	closed   bool

	upstream   *zone
	merge      *zone
	downstream *zone
	loops      map[string]*loop
	zones      map[string]*zone
	model      greenshields

	// 回合状态
	t           float64
	mainRate    float64 // 本回合主线需求（veh/h）
	rampRate    float64 // 本回合匝道需求（veh/h）
	backlog     int     // 合流区上游的主线排队
	rampQueue   int     // 匝道排队
	rampCredit  float64 // 匝道放行的小数累积
	mergeCredit float64 // 合流区通行能力的小数累积
	signal      signalRuntime
	served      int // 本回合通过合流区的车辆总数
}

// New 创建参考仿真器
// 参数：rc-运行时配置
// 返回：参考仿真器，需要先调用Reset开始回合
func New(rc *config.RuntimeConfig) *Simulator {
	c := rc.All.Simulator
	// 通行能力按主线车道数平均，匝道加速车道不增加通行能力
	model := greenshields{qc: c.Demand.MergeCapacity / mainLanes, vf: c.FreeflowSpeed * 3.6}
	s := &Simulator{
		c:          c,
		dt:         rc.C.Step.Interval,
		duration:   rc.C.Step.Total,
		rng:        randengine.New(c.Seed),
		upstream:   newZone(EdgeUpstream, "up_stream_sens", mainLanes),
		merge:      newZone(EdgeMerge, "bottle_neck_sens", mergeLanes),
		downstream: newZone(EdgeDownstream, "end_main_road_sens", mainLanes),
		loops:      make(map[string]*loop),
		model:      model,
	}
	s.zones = map[string]*zone{
		EdgeUpstream:   s.upstream,
		EdgeMerge:      s.merge,
		EdgeDownstream: s.downstream,
	}
	for _, z := range s.zones {
		for _, l := range z.loops {
			s.loops[l.id] = l
		}
	}
	return s
}

// Reset 重新开始一个回合
// 功能：按权重抽取本回合的主线与匝道需求，清空排队与线圈数据
// 说明：随机序列由种子与回合序号共同决定，同一回合可以复现
func (s *Simulator) Reset(episode int) error {
	if s.closed {
		return errors.Wrap(entity.ErrTransport, "queuesim: reset after close")
	}
	s.rng.Reseed(s.c.Seed + uint64(episode))
	d := s.c.Demand
	s.mainRate = d.Main[s.rng.DiscreteDistribution(d.MainWeights)]
	s.rampRate = d.Ramp[s.rng.DiscreteDistribution(d.RampWeights)]
	s.t = 0
	s.backlog, s.rampQueue, s.served = 0, 0, 0
	s.rampCredit, s.mergeCredit = 0, 0
	s.signal = signalRuntime{phase: PhaseGreen, remainingT: programPhaseTime}
	for _, z := range s.zones {
		z.density, z.speed, z.next = 0, 0, 0
		for _, l := range z.loops {
			*l = loop{id: l.id}
		}
	}
	log.Infof("episode %d: main demand %.0f veh/h, ramp demand %.0f veh/h", episode, s.mainRate, s.rampRate)
	return nil
}

// Advance 推进仿真dt秒
// 算法说明：
// 1. 主线与匝道按泊松过程生成到达车辆
// 2. 匝道绿灯时按放行率放行排队车辆
// 3. 合流区按通行能力服务，匝道车辆优先，剩余能力服务主线；主线有排队时通行能力下降
// 4. 更新各检测区域的密度、速度与线圈数据
func (s *Simulator) Advance(dt float64) error {
	if s.closed {
		return errors.Wrap(entity.ErrTransport, "queuesim: advance after close")
	}
	if dt <= 0 {
		return errors.Errorf("queuesim: invalid step %v", dt)
	}
	arrivals, rampArrivals := 0, 0
	if s.t < s.duration {
		arrivals = s.rng.Poisson(s.mainRate * dt / 3600)
		rampArrivals = s.rng.Poisson(s.rampRate * dt / 3600)
	}
	s.rampQueue += rampArrivals

	released := 0
	if s.green() {
		s.rampCredit += s.c.RampDischarge * dt
		released = min(s.rampQueue, int(s.rampCredit))
		s.rampCredit -= float64(released)
		if s.rampQueue == released {
			s.rampCredit = 0
		}
	} else {
		s.rampCredit = 0
	}
	s.rampQueue -= released

	capacity := s.c.Demand.MergeCapacity
	if s.backlog > 0 {
		capacity *= 1 - s.c.CapacityDrop
	}
	perStep := capacity * dt / 3600
	s.mergeCredit = min(s.mergeCredit+perStep, perStep+1)
	pending := s.backlog + arrivals
	mainServed := lo.Clamp(int(s.mergeCredit)-released, 0, pending)
	s.mergeCredit = max(s.mergeCredit-float64(mainServed+released), 0)
	s.backlog = pending - mainServed
	throughput := mainServed + released
	s.served += throughput

	s.updateZones(dt, arrivals, throughput)
	s.t += dt
	s.updateSignal(dt)
	if s.c.DetectorPeriod > 0 && s.crossed(s.c.DetectorPeriod, dt) {
		for _, l := range s.loops {
			l.closeInterval()
		}
	}
	return nil
}

// crossed 本步是否跨过了统计区间边界
func (s *Simulator) crossed(period, dt float64) bool {
	return math.Floor((s.t+1e-9)/period) > math.Floor((s.t-dt+1e-9)/period)
}

// updateZones 更新三个检测区域
func (s *Simulator) updateZones(dt float64, arrivals, throughput int) {
	toRate := 3600 / dt
	up := s.upstream
	if s.backlog > 0 {
		// 排队向上游蔓延，密度在临界密度与阻塞密度之间
		up.density = min(s.model.critical()+float64(s.backlog)/(zoneLength*float64(up.lanes)), s.model.jam())
	} else {
		up.density = s.model.freeDensity(float64(arrivals) * toRate / float64(up.lanes))
	}
	if s.backlog > 0 {
		s.merge.density = s.model.critical()
	} else {
		s.merge.density = s.model.freeDensity(float64(throughput) * toRate / mainLanes)
	}
	s.downstream.density = s.model.freeDensity(float64(throughput) * toRate / float64(s.downstream.lanes))

	s.record(up, dt, arrivals)
	s.record(s.merge, dt, throughput)
	s.record(s.downstream, dt, throughput)
}

func (s *Simulator) record(z *zone, dt float64, passed int) {
	z.speed = s.model.speed(z.density)
	occ := z.occupancy()
	for i, n := range z.pass(passed) {
		z.loops[i].record(dt, n, occ, z.speed)
	}
}

// updateSignal 信号灯按当前相位的剩余时长轮换
func (s *Simulator) updateSignal(dt float64) {
	if s.c.NoSignal || s.signal.remainingT >= mathutil.INF {
		return
	}
	s.signal.remainingT -= dt
	if s.signal.remainingT <= 0 {
		s.signal.phase = 1 - s.signal.phase
		s.signal.remainingT += programPhaseTime
	}
}

func (s *Simulator) green() bool {
	return s.c.NoSignal || s.signal.phase == PhaseGreen
}

func (s *Simulator) DeltaT() float64 { return s.dt }

func (s *Simulator) Time() float64 { return s.t }

// Finished 需求结束且路网中没有排队车辆
func (s *Simulator) Finished() (bool, error) {
	if s.closed {
		return true, errors.Wrap(entity.ErrTransport, "queuesim: closed")
	}
	return s.t >= s.duration && s.backlog == 0 && s.rampQueue == 0, nil
}

func (s *Simulator) Close() error {
	s.closed = true
	return nil
}

// Demand 本回合抽取的主线与匝道需求（veh/h）
func (s *Simulator) Demand() (main, ramp float64) {
	return s.mainRate, s.rampRate
}

// Served 本回合通过合流区的车辆总数
func (s *Simulator) Served() int { return s.served }

func (s *Simulator) LoopStats(loopID string) (entity.LoopStats, error) {
	l, ok := s.loops[loopID]
	if !ok {
		return entity.LoopStats{}, errors.Wrapf(entity.ErrSensorUnavailable, "loop %s", loopID)
	}
	return entity.LoopStats{
		IntervalCount:     l.last.count,
		IntervalOccupancy: l.last.occupancy,
		LastStepCount:     l.stepCount,
		LastStepMeanSpeed: l.stepSpeed,
	}, nil
}

func (s *Simulator) EdgeVehicleCount(edgeID string) (int, error) {
	if edgeID == EdgeRamp {
		return s.rampQueue, nil
	}
	z, ok := s.zones[edgeID]
	if !ok {
		return 0, errors.Wrapf(entity.ErrSensorUnavailable, "edge %s", edgeID)
	}
	return z.vehicles(), nil
}

func (s *Simulator) LoopsOnEdge(edgeID string) ([]string, error) {
	if edgeID == EdgeRamp {
		return nil, nil
	}
	z, ok := s.zones[edgeID]
	if !ok {
		return nil, errors.Wrapf(entity.ErrSensorUnavailable, "edge %s", edgeID)
	}
	return lo.Map(z.loops, func(l *loop, _ int) string { return l.id }), nil
}

func (s *Simulator) SignalIDs() []string {
	if s.c.NoSignal {
		return nil
	}
	return []string{SignalID}
}

func (s *Simulator) SignalPhase(tlID string) (int32, error) {
	if err := s.checkSignal(tlID); err != nil {
		return -1, err
	}
	return s.signal.phase, nil
}

func (s *Simulator) SetSignalPhase(tlID string, phase int32) error {
	if err := s.checkSignal(tlID); err != nil {
		return err
	}
	if phase != PhaseGreen && phase != PhaseRed {
		return errors.Wrapf(entity.ErrTransport, "signal %s has no phase %d", tlID, phase)
	}
	s.signal = signalRuntime{phase: phase, remainingT: programPhaseTime}
	return nil
}

func (s *Simulator) SetPhaseDuration(tlID string, seconds float64) error {
	if err := s.checkSignal(tlID); err != nil {
		return err
	}
	s.signal.remainingT = seconds
	return nil
}

func (s *Simulator) checkSignal(tlID string) error {
	if s.closed {
		return errors.Wrap(entity.ErrTransport, "queuesim: closed")
	}
	if s.c.NoSignal || tlID != SignalID {
		return errors.Wrapf(entity.ErrTransport, "unknown signal %s", tlID)
	}
	return nil
}
