package entity

import "github.com/pkg/errors"

var (
	// 检测器或路段查询失败，调用方以默认值代替并继续聚合
	ErrSensorUnavailable = errors.New("sensor unavailable")
	// 与仿真器的连接断开或命令被拒绝，不重试，回合立即结束
	ErrTransport = errors.New("simulator transport failure")
	// 路网中没有信号灯
	ErrNoSignal = errors.New("no traffic signal in network")
)

// LoopStats 单个线圈的统计数据
// 说明：Interval*为线圈上一个完整统计区间的结果，LastStep*为上一仿真步的瞬时结果
type LoopStats struct {
	IntervalCount     int     // 上一统计区间通过的车辆数
	IntervalOccupancy float64 // 上一统计区间的占有率（%）
	LastStepCount     int     // 上一步通过的车辆数
	LastStepMeanSpeed float64 // 上一步通过车辆的平均速度（m/s），没有车辆时小于0
}

// 线圈数据读取接口
type ILoopReader interface {
	LoopStats(loopID string) (LoopStats, error)
}

// 路段数据读取接口
type IEdgeReader interface {
	EdgeVehicleCount(edgeID string) (int, error) // 路段上当前的车辆数
	LoopsOnEdge(edgeID string) ([]string, error) // 路段上布设的全部线圈
}

// 信号灯控制接口
type ISignalSetter interface {
	SignalIDs() []string                                 // 路网中的全部信号灯
	SignalPhase(tlID string) (int32, error)              // 当前相位索引
	SetSignalPhase(tlID string, phase int32) error       // 切换相位
	SetPhaseDuration(tlID string, seconds float64) error // 设置当前相位的剩余时长
}

// 微观仿真器的依赖倒置
// 说明：仿真器是独占资源，只能由控制循环所在的协程串行调用
type ISimulator interface {
	ILoopReader
	IEdgeReader
	ISignalSetter

	Reset(episode int) error  // 重新开始一个回合
	Advance(dt float64) error // 推进仿真dt秒
	DeltaT() float64          // 仿真器步长（秒）
	Time() float64            // 当前仿真时间（秒）
	Finished() (bool, error)  // 仿真中是否已经没有待运行的车辆
	Close() error
}
