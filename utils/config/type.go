package config

// ControlStep 指定仿真步长与单回合时长
// 功能：定义仿真时间控制参数
// 说明：Interval为每次推进仿真器的时间间隔，Total为单回合仿真总时长
type ControlStep struct {
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
	Total    float64 `yaml:"total"`    // 单回合仿真总时长（秒）
}

// Control 控制循环配置
// 功能：定义匝道控制周期、控制器类型与离散动作集合
type Control struct {
	Step        ControlStep `yaml:"step"`
	Cycle       float64     `yaml:"cycle,omitempty"`        // 控制周期（秒），默认40
	Warmup      float64     `yaml:"warmup,omitempty"`       // reset后的预热时长（秒），默认5
	Controller  string      `yaml:"controller,omitempty"`   // learned | alinea | pi_alinea | always_green | fixed_cycle
	GreenMenu   []float64   `yaml:"green_menu,omitempty"`   // 学习策略可选的绿灯时长（秒）
	MinGreen    float64     `yaml:"min_green,omitempty"`    // 最短绿灯（秒），默认3
	MinRed      float64     `yaml:"min_red,omitempty"`      // 最短红灯（秒），默认0
	Heartbeat   int         `yaml:"heartbeat,omitempty"`    // 心跳日志间隔周期数
	FixedGreen  float64     `yaml:"fixed_green,omitempty"`  // 固定周期基线的绿灯时长（秒）
	EpisodeName string      `yaml:"episode_name,omitempty"` // 输出记录中的任务名
}

// Signal 匝道信号灯配置
// 说明：ID为空时从仿真器中取第一个信号灯；仿真器中没有信号灯时调度器降级为空操作
type Signal struct {
	ID         string `yaml:"id,omitempty"`
	JunctionID int32  `yaml:"junction_id,omitempty"` // 对外RPC中信号灯所属的junction ID
	GreenPhase int32  `yaml:"green_phase"`            // 绿灯相位索引
	RedPhase   int32  `yaml:"red_phase"`              // 红灯相位索引
}

// DetectorGroup 一个检测区域内的线圈集合
// 说明：Loops与Edge二选一，Edge表示取该路段上的全部线圈
type DetectorGroup struct {
	Name    string   `yaml:"name,omitempty"`
	Loops   []string `yaml:"loops,omitempty"`
	Edge    string   `yaml:"edge,omitempty"`
	MaxFlow float64  `yaml:"max_flow,omitempty"` // 归一化用的最大流量（veh/h）
}

// Detectors 检测器布设
type Detectors struct {
	Upstream   DetectorGroup   `yaml:"upstream"`
	Merge      DetectorGroup   `yaml:"merge"`
	Downstream DetectorGroup   `yaml:"downstream"`
	Probes     []DetectorGroup `yaml:"probes,omitempty"` // 附加的单车道探测组，依次追加到观测向量中
	RampEdge   string          `yaml:"ramp_edge"`        // 统计排队长度的匝道路段
}

// Alinea ALINEA参数
type Alinea struct {
	CriticalOccupancy float64 `yaml:"critical_occupancy,omitempty"` // 临界占有率（%）
	Kr                float64 `yaml:"kr,omitempty"`
	MinRate           float64 `yaml:"min_rate,omitempty"`          // veh/h
	MaxRate           float64 `yaml:"max_rate,omitempty"`          // veh/h
	SaturationFlow    float64 `yaml:"saturation_flow,omitempty"`   // 匝道饱和流率（veh/s）
	MeasurementGroup  string  `yaml:"measurement_group,omitempty"` // 反馈占有率取自哪个检测组：upstream | merge | downstream
}

// PiAlinea PI-ALINEA参数，其余参数沿用Alinea
type PiAlinea struct {
	Kp float64 `yaml:"kp,omitempty"`
	Ki float64 `yaml:"ki,omitempty"`
}

// Normalization 观测归一化上限
type Normalization struct {
	MaxOccupancy  float64 `yaml:"max_occupancy,omitempty"`  // %
	FreeflowSpeed float64 `yaml:"freeflow_speed,omitempty"` // m/s
	MaxRampQueue  float64 `yaml:"max_ramp_queue,omitempty"` // veh
}

// Reward 奖励各项权重
type Reward struct {
	MergeSpeed        float64 `yaml:"merge_speed,omitempty"`
	UpstreamSpeed     float64 `yaml:"upstream_speed,omitempty"`
	DownstreamSpeed   float64 `yaml:"downstream_speed,omitempty"`
	MergeOccupancy    float64 `yaml:"merge_occupancy,omitempty"`
	UpstreamOccupancy float64 `yaml:"upstream_occupancy,omitempty"`
	RampQueue         float64 `yaml:"ramp_queue,omitempty"`
	Spillback         float64 `yaml:"spillback,omitempty"`
	SpillbackRatio    float64 `yaml:"spillback_ratio,omitempty"` // 开始惩罚的排队比例
}

// Demand 参考仿真器的需求菜单，每回合按权重抽取一次
type Demand struct {
	Main          []float64 `yaml:"main,omitempty"` // veh/h
	MainWeights   []float64 `yaml:"main_weights,omitempty"`
	Ramp          []float64 `yaml:"ramp,omitempty"` // veh/h
	RampWeights   []float64 `yaml:"ramp_weights,omitempty"`
	MergeCapacity float64   `yaml:"merge_capacity,omitempty"` // 合流区通行能力（veh/h）
}

// Simulator 参考仿真器配置
// 说明：合流区为点排队瓶颈，匝道车辆优先汇入，主线排队时通行能力按比例下降
type Simulator struct {
	Seed           uint64  `yaml:"seed,omitempty"`
	DetectorPeriod float64 `yaml:"detector_period,omitempty"` // 线圈统计区间（秒）
	Demand         Demand  `yaml:"demand"`
	NoSignal       bool    `yaml:"no_signal,omitempty"`      // 模拟没有信号灯的路网
	RampDischarge  float64 `yaml:"ramp_discharge,omitempty"` // 绿灯时匝道放行率（veh/s）
	FreeflowSpeed  float64 `yaml:"freeflow_speed,omitempty"` // 主线自由流速度（m/s）
	CapacityDrop   float64 `yaml:"capacity_drop,omitempty"`  // 主线排队时合流区通行能力下降比例
}

// Output 结果输出，URI与SQLite都为空则不输出
type Output struct {
	URI    string `yaml:"uri,omitempty"`    // MongoDB连接串
	DB     string `yaml:"db,omitempty"`     // MongoDB数据库名
	Col    string `yaml:"col,omitempty"`    // MongoDB集合名，同时作为SQLite中的job
	SQLite string `yaml:"sqlite,omitempty"` // SQLite文件路径
}

// Config YAML配置文件的根结构
// 功能：定义整个匝道控制系统的配置结构
type Config struct {
	Control     Control       `yaml:"control"`
	Signal      Signal        `yaml:"signal"`
	Detectors   Detectors     `yaml:"detectors"`
	Alinea      Alinea        `yaml:"alinea"`
	PiAlinea    PiAlinea      `yaml:"pi_alinea"`
	Observation Normalization `yaml:"observation"`
	Reward      Reward        `yaml:"reward"`
	Simulator   Simulator     `yaml:"simulator"`
	Output      Output        `yaml:"output,omitempty"`
}
