package controller

import (
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/detector"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/signal"
)

// NoAction 基线控制器不需要动作输入
const NoAction = -1

// DecisionState 每个周期决策时控制器能看到的全部输入
type DecisionState struct {
	Action   int               // 学习策略给出的动作序号，其余控制器忽略
	Snapshot detector.Snapshot // 上一个周期的传感器快照
	Elapsed  float64           // 距离上一次决策的仿真时长（秒）
}

// State 控制器内部状态，供info输出
type State struct {
	Rate              float64 // 当前调节率（veh/h），仅反馈控制器
	Integral          float64 // 占有率误差累积，仅PI-ALINEA
	PreviousOccupancy float64 // 上一次参与计算的占有率（%），仅PI-ALINEA
	MeasuredOccupancy float64 // 本次决策使用的占有率（%）
	Saturated         bool    // 本次更新是否触及调节率上下限
	Action            int     // 截断后实际使用的动作序号，仅学习策略
}

// 控制器接口
// 说明：所有控制器共用同一个决策入口，由控制循环驱动相位调度
type IController interface {
	Kind() string                                    // 控制器类型名称
	Reset()                                          // 回合开始时重置内部状态
	DecideCycleTiming(s DecisionState) signal.Timing // 计算下一个周期的绿红分配
	State() State                                    // 当前内部状态
}
