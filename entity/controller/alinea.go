package controller

import (
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/detector"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/signal"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

const eps = 1e-9

// meter 反馈控制器共用部分：决策节奏、调节率上下限与调节率到绿灯时长的换算
type meter struct {
	p        config.Alinea
	cycle    float64
	minGreen float64
	minRed   float64

	state         State
	timing        signal.Timing // 上一次决策的分配
	sinceDecision float64       // 距离上一次重新计算的时长
}

func newMeter(rc *config.RuntimeConfig) meter {
	m := meter{
		p:        rc.All.Alinea,
		cycle:    rc.C.Cycle,
		minGreen: rc.C.MinGreen,
		minRed:   rc.C.MinRed,
	}
	m.reset()
	return m
}

// reset 调节率回到上下限中点，并保证下一次调用立即重新计算
func (m *meter) reset() {
	m.state = State{Rate: (m.p.MinRate + m.p.MaxRate) / 2}
	m.timing = signal.NewTiming(m.minGreen, m.cycle)
	m.sinceDecision = m.cycle
}

// due 累计距上一次决策的时长，达到一个周期时返回true并清零
func (m *meter) due(elapsed float64) bool {
	m.sinceDecision += max(elapsed, 0)
	if m.sinceDecision < m.cycle-eps {
		return false
	}
	m.sinceDecision = 0
	return true
}

// measure 从快照中读取反馈占有率
func (m *meter) measure(s detector.Snapshot) float64 {
	st, ok := s.Group(m.p.MeasurementGroup)
	if !ok {
		return 0
	}
	return st.Occupancy
}

// clip 把调节率限制在上下限内，返回是否饱和
func (m *meter) clip(rate float64) (float64, bool) {
	clipped := lo.Clamp(rate, m.p.MinRate, m.p.MaxRate)
	return clipped, clipped != rate
}

// greenTime 把调节率换算为绿灯时长
// 算法说明：green = rate*cycle/3600/satFlow，限制在[minGreen, cycle-minRed]；饱和流率非正时取最短绿灯
func (m *meter) greenTime(rate float64) float64 {
	if m.p.SaturationFlow <= 0 {
		return min(m.minGreen, m.cycle)
	}
	green := rate * m.cycle / 3600 / m.p.SaturationFlow
	return lo.Clamp(green, m.minGreen, max(m.cycle-m.minRed, m.minGreen))
}

func (m *meter) State() State { return m.state }

// alinea ALINEA控制器
type alinea struct {
	meter
}

func newAlinea(rc *config.RuntimeConfig) *alinea {
	return &alinea{meter: newMeter(rc)}
}

func (c *alinea) Kind() string { return config.ControllerAlinea }

func (c *alinea) Reset() { c.reset() }

// DecideCycleTiming ALINEA决策
// 算法说明：rate(k) = clip(rate(k-1) + Kr*(Occ_crit - Occ(k-1)), rate_min, rate_max)
func (c *alinea) DecideCycleTiming(s DecisionState) signal.Timing {
	if !c.due(s.Elapsed) {
		return c.timing
	}
	occ := c.measure(s.Snapshot)
	c.state.MeasuredOccupancy = occ
	c.state.Rate, c.state.Saturated = c.clip(c.state.Rate + c.p.Kr*(c.p.CriticalOccupancy-occ))
	c.timing = signal.NewTiming(c.greenTime(c.state.Rate), c.cycle)
	log.Debugf("alinea: occ=%.2f rate=%.1f green=%.1f", occ, c.state.Rate, c.timing.Green)
	return c.timing
}

// piAlinea PI-ALINEA控制器
type piAlinea struct {
	meter
	kp, ki  float64
	hasPrev bool
}

func newPiAlinea(rc *config.RuntimeConfig) *piAlinea {
	return &piAlinea{meter: newMeter(rc), kp: rc.All.PiAlinea.Kp, ki: rc.All.PiAlinea.Ki}
}

func (c *piAlinea) Kind() string { return config.ControllerPiAlinea }

func (c *piAlinea) Reset() {
	c.reset()
	c.hasPrev = false
}

// DecideCycleTiming PI-ALINEA决策
// 算法说明：
// 1. rate(k) = clip(rate(k-1) + Kp*(Occ(k-2) - Occ(k-1)) + Ki*(Occ_crit - Occ(k-1)), rate_min, rate_max)
// 2. 第一次决策时没有Occ(k-2)，取本次测量值，比例项为0
// 3. 未截断的结果越界时不推进Occ(k-2)与误差累积
func (c *piAlinea) DecideCycleTiming(s DecisionState) signal.Timing {
	if !c.due(s.Elapsed) {
		return c.timing
	}
	occ := c.measure(s.Snapshot)
	if !c.hasPrev {
		c.state.PreviousOccupancy = occ
		c.hasPrev = true
	}
	c.state.MeasuredOccupancy = occ
	errOcc := c.p.CriticalOccupancy - occ
	raw := c.state.Rate + c.kp*(c.state.PreviousOccupancy-occ) + c.ki*errOcc
	c.state.Rate, c.state.Saturated = c.clip(raw)
	if !c.state.Saturated {
		c.state.PreviousOccupancy = occ
		c.state.Integral += errOcc
	}
	c.timing = signal.NewTiming(c.greenTime(c.state.Rate), c.cycle)
	log.Debugf("pi-alinea: occ=%.2f rate=%.1f integral=%.2f saturated=%v green=%.1f",
		occ, c.state.Rate, c.state.Integral, c.state.Saturated, c.timing.Green)
	return c.timing
}
