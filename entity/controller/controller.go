// 匝道控制器：学习策略、ALINEA、PI-ALINEA与两个基线，统一输出每个周期的绿红分配
package controller

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/signal"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

// New 根据名称创建控制器
// 参数：kind-控制器类型名称，rc-运行时配置
// 返回：控制器实例，名称未知时返回错误
func New(kind string, rc *config.RuntimeConfig) (IController, error) {
	cycle := rc.C.Cycle
	switch kind {
	case config.ControllerLearned:
		return newLearned(rc.C.GreenMenu, cycle), nil
	case config.ControllerAlinea:
		return newAlinea(rc), nil
	case config.ControllerPiAlinea:
		return newPiAlinea(rc), nil
	case config.ControllerAlwaysGreen:
		return &fixed{kind: kind, timing: signal.NewTiming(cycle, cycle)}, nil
	case config.ControllerFixedCycle:
		return &fixed{kind: kind, timing: signal.NewTiming(rc.C.FixedGreen, cycle)}, nil
	}
	return nil, errors.Errorf("controller: unknown kind %q", kind)
}

// learned 学习策略：动作序号从固定菜单中选择绿灯时长
type learned struct {
	menu  []float64
	cycle float64
	state State
}

func newLearned(menu []float64, cycle float64) *learned {
	return &learned{menu: append([]float64(nil), menu...), cycle: cycle}
}

func (c *learned) Kind() string { return config.ControllerLearned }

func (c *learned) Reset() { c.state = State{} }

// DecideCycleTiming 越界的动作序号截断到最近的合法序号
func (c *learned) DecideCycleTiming(s DecisionState) signal.Timing {
	if len(c.menu) == 0 {
		return signal.NewTiming(c.cycle, c.cycle)
	}
	action := lo.Clamp(s.Action, 0, len(c.menu)-1)
	if action != s.Action {
		log.Debugf("action %d out of range, clamped to %d", s.Action, action)
	}
	c.state.Action = action
	return signal.NewTiming(c.menu[action], c.cycle)
}

func (c *learned) State() State { return c.state }

// fixed 固定分配的基线控制器（全绿或固定周期）
type fixed struct {
	kind   string
	timing signal.Timing
}

func (c *fixed) Kind() string { return c.kind }

func (c *fixed) Reset() {}

func (c *fixed) DecideCycleTiming(DecisionState) signal.Timing { return c.timing }

func (c *fixed) State() State { return State{} }
