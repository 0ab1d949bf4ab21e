// 匝道信号灯相位调度：在固定周期内按计算出的绿灯时长切换绿/红两个相位
package signal

import (
	"sync/atomic"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

const eps = 1e-9

// Timing 一个控制周期内的绿红时长分配
type Timing struct {
	Green float64 // 绿灯时长（秒）
	Red   float64 // 红灯时长（秒）
}

// NewTiming 根据绿灯时长生成周期分配
// 说明：绿灯限制在[0, cycle]，红灯取周期剩余部分，保证Green+Red==cycle
func NewTiming(green, cycle float64) Timing {
	cycle = max(cycle, 0)
	green = lo.Clamp(green, 0, cycle)
	return Timing{Green: green, Red: max(cycle-green, 0)}
}

func (t Timing) Cycle() float64 { return t.Green + t.Red }

// schedulerRuntime 调度器运行时数据
type schedulerRuntime struct {
	state    mapv2.LightState // 当前相位
	elapsed  float64          // 当前相位已运行时长
	duration float64          // 当前相位计划时长
	timing   Timing           // 当前周期的分配
}

// Scheduler 匝道信号灯相位调度器
// 功能：维护当前相位与相位内已运行时长，在绿灯时长用完时切换为红灯并保持到周期结束
// 说明：路网中没有信号灯时调度器降级为空操作，只记录时间，不下发任何命令
type Scheduler struct {
	sim        entity.ISignalSetter
	tlID       string // 信号灯ID，为空表示没有信号灯
	greenPhase int32  // 绿灯相位索引
	redPhase   int32  // 红灯相位索引
	cycle      float64

	runtime  schedulerRuntime
	ok       bool        // 匝道控制状态，true为开启，false为关闭（全绿）
	okBuffer atomic.Bool // 匝道控制状态buffer，用于交互式接口写入
	commands int         // 已下发的命令数
}

// NewScheduler 创建相位调度器
// 功能：确定受控信号灯并初始化为红灯、时长为整个周期，以便立即做出第一次决策
// 参数：sim-信号灯控制接口，c-信号灯配置，cycle-控制周期（秒）
// 返回：相位调度器；找不到信号灯时返回降级的调度器
func NewScheduler(sim entity.ISignalSetter, c config.Signal, cycle float64) *Scheduler {
	ids := sim.SignalIDs()
	tlID := c.ID
	switch {
	case tlID == "" && len(ids) > 0:
		tlID = ids[0]
	case tlID != "" && !lo.Contains(ids, tlID):
		log.Warnf("configured signal %s not found in network %v", tlID, ids)
		tlID = ""
	}
	if tlID == "" {
		log.Warnf("%v: ramp metering runs without phase commands", entity.ErrNoSignal)
	}
	s := &Scheduler{
		sim:        sim,
		tlID:       tlID,
		greenPhase: c.GreenPhase,
		redPhase:   c.RedPhase,
		cycle:      cycle,
		ok:         true,
	}
	s.okBuffer.Store(true)
	s.runtime = schedulerRuntime{
		state:    mapv2.LightState_LIGHT_STATE_RED,
		duration: cycle,
		timing:   Timing{Red: cycle},
	}
	return s
}

// Reset 回合开始时重置为红灯、时长为整个周期
// 说明：仿真器重启后相位未知，因此无条件下发命令
func (s *Scheduler) Reset() error {
	s.ok = s.okBuffer.Load()
	s.runtime = schedulerRuntime{timing: Timing{Red: s.cycle}}
	return s.enter(mapv2.LightState_LIGHT_STATE_RED, s.cycle, true)
}

// StartCycle 开始一个新的控制周期
// 功能：应用开关buffer，按分配进入绿灯（绿灯时长为0时直接进入红灯）
// 参数：t-本周期的绿红分配
// 返回：实际执行的分配（匝道控制关闭时为整周期绿灯）与命令下发错误
func (s *Scheduler) StartCycle(t Timing) (Timing, error) {
	s.ok = s.okBuffer.Load()
	if !s.ok {
		t = Timing{Green: t.Cycle()}
	}
	s.runtime.timing = t
	if t.Green > 0 {
		return t, s.enter(mapv2.LightState_LIGHT_STATE_GREEN, s.holdDuration(t.Green, t.Red), false)
	}
	return t, s.enter(mapv2.LightState_LIGHT_STATE_RED, s.holdDuration(t.Red, t.Green), false)
}

// BeginRed 进入本周期的红灯段，当前已是红灯时不做任何操作
func (s *Scheduler) BeginRed() error {
	if !s.ok || s.runtime.timing.Red <= 0 {
		return nil
	}
	return s.enter(mapv2.LightState_LIGHT_STATE_RED, s.holdDuration(s.runtime.timing.Red, s.runtime.timing.Green), false)
}

// Update 推进相位内时间
// 功能：绿灯运行时长达到本周期绿灯时长后切换为红灯，红灯保持到周期结束
// 参数：dt-时间步长
func (s *Scheduler) Update(dt float64) error {
	s.runtime.elapsed += dt
	if !s.ok || s.runtime.state != mapv2.LightState_LIGHT_STATE_GREEN {
		return nil
	}
	if s.runtime.timing.Red > 0 && s.runtime.elapsed >= s.runtime.timing.Green-eps {
		return s.BeginRed()
	}
	return nil
}

// holdDuration 下发给仿真器的相位时长
// 说明：另一相位时长为0时当前相位需要跨周期保持，下发无穷大时长避免仿真器自行切换
func (s *Scheduler) holdDuration(d, other float64) float64 {
	if other <= 0 {
		return mathutil.INF
	}
	return d
}

// enter 切换到指定相位
// 说明：与当前相位相同且非强制时只更新内部计时，不调用仿真器
func (s *Scheduler) enter(state mapv2.LightState, duration float64, force bool) error {
	same := state == s.runtime.state
	s.runtime.state = state
	s.runtime.elapsed = 0
	s.runtime.duration = duration
	if (same && !force) || s.tlID == "" {
		return nil
	}
	phase := lo.Ternary(state == mapv2.LightState_LIGHT_STATE_GREEN, s.greenPhase, s.redPhase)
	s.commands++
	if err := s.sim.SetSignalPhase(s.tlID, phase); err != nil {
		return errors.Wrapf(err, "set phase %d of %s", phase, s.tlID)
	}
	s.commands++
	if err := s.sim.SetPhaseDuration(s.tlID, duration); err != nil {
		return errors.Wrapf(err, "set phase duration of %s", s.tlID)
	}
	return nil
}

// SetOk 设置匝道控制开关，下一个周期开始时生效
// 说明：可在其他协程中调用
func (s *Scheduler) SetOk(ok bool) {
	s.okBuffer.Store(ok)
}

// Ok 匝道控制是否开启
func (s *Scheduler) Ok() bool { return s.ok }

// Enabled 路网中是否存在受控信号灯
func (s *Scheduler) Enabled() bool { return s.tlID != "" }

func (s *Scheduler) TLID() string { return s.tlID }

// State 当前相位
func (s *Scheduler) State() mapv2.LightState { return s.runtime.state }

// Elapsed 当前相位已运行时长
func (s *Scheduler) Elapsed() float64 { return s.runtime.elapsed }

// RemainingTime 当前相位剩余时长
func (s *Scheduler) RemainingTime() float64 {
	return max(s.runtime.duration-s.runtime.elapsed, 0)
}

// Timing 当前周期的分配
func (s *Scheduler) Timing() Timing { return s.runtime.timing }

// PhaseIndex 当前相位对应的信号灯相位索引
func (s *Scheduler) PhaseIndex() int32 {
	return lo.Ternary(s.runtime.state == mapv2.LightState_LIGHT_STATE_GREEN, s.greenPhase, s.redPhase)
}

// Commands 已下发给仿真器的命令数
func (s *Scheduler) Commands() int { return s.commands }
