package task

import (
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/controller"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/detector"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/observation"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/signal"
)

// Info 每个周期结束时的完整信息
// 功能：包含传感器快照、控制器状态、奖励各项与回合状态，供训练/评估方与结果输出使用
type Info struct {
	EpisodeID  string // 回合唯一ID
	Episode    int    // 回合序号
	Cycle      int    // 本回合已完成的周期数，reset后为0
	Time       float64
	Controller string
	Action     int           // 截断后实际使用的动作序号，基线为-1
	Timing     signal.Timing // 本周期实际执行的绿红分配
	MeterOn    bool          // 匝道控制是否开启

	Snapshot detector.Snapshot
	State    controller.State
	Reward   observation.Reward

	Commands       int    // 累计下发的信号灯命令数
	Finished       bool   // 仿真器报告没有待运行的车辆
	Done           bool   // 回合结束
	TransportError string // 与仿真器通信失败的原因
}

// Map 以键值对形式展开全部信息，用于日志与结果输出
func (i Info) Map() map[string]any {
	s := i.Snapshot
	m := map[string]any{
		"episode_id": i.EpisodeID,
		"episode":    i.Episode,
		"cycle":      i.Cycle,
		"sim_time":   i.Time,
		"controller": i.Controller,
		"action":     i.Action,
		"meter_on":   i.MeterOn,

		"flow_upstream_vph":      s.Upstream.Flow,
		"occ_upstream_percent":   s.Upstream.Occupancy,
		"speed_upstream_mps":     s.Upstream.Speed,
		"flow_merge_vph":         s.Merge.Flow,
		"occ_merge_percent":      s.Merge.Occupancy,
		"speed_merge_mps":        s.Merge.Speed,
		"flow_downstream_vph":    s.Downstream.Flow,
		"occ_downstream_percent": s.Downstream.Occupancy,
		"speed_downstream_mps":   s.Downstream.Speed,
		"failed_sensors":         s.FailedSensors(),

		"ramp_queue_veh":     s.RampQueue,
		"ramp_queue_max_veh": s.RampQueueMax,
		"tl_state":           s.SignalState.String(),
		"tl_phase_index":     s.SignalPhase,
		"green_time_sec":     i.Timing.Green,
		"red_time_sec":       i.Timing.Red,

		"metering_rate_vph":    i.State.Rate,
		"measured_occ_percent": i.State.MeasuredOccupancy,
		"previous_occ_percent": i.State.PreviousOccupancy,
		"integral":             i.State.Integral,
		"saturated":            i.State.Saturated,

		"reward":                     i.Reward.Total,
		"reward_merge_speed":         i.Reward.MergeSpeed,
		"reward_upstream_speed":      i.Reward.UpstreamSpeed,
		"reward_downstream_speed":    i.Reward.DownstreamSpeed,
		"penalty_merge_occupancy":    i.Reward.MergeOccupancy,
		"penalty_upstream_occupancy": i.Reward.UpstreamOccupancy,
		"penalty_ramp_queue":         i.Reward.RampQueue,
		"penalty_spillback":          i.Reward.Spillback,

		"commands":        i.Commands,
		"finished":        i.Finished,
		"done":            i.Done,
		"transport_error": i.TransportError,
	}
	for _, p := range s.Probes {
		m["flow_"+p.Name+"_vph"] = p.Flow
		m["occ_"+p.Name+"_percent"] = p.Occupancy
		m["speed_"+p.Name+"_mps"] = p.Speed
	}
	return m
}
