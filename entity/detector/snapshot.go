package detector

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

// GroupStats 带名称的检测组聚合结果
type GroupStats struct {
	Name string
	Stats
}

// Snapshot 一个控制周期的传感器快照
// 功能：汇总上游、合流区、下游与附加探测组的统计结果，以及匝道排队与信号状态
// 说明：每个周期结束时生成一次
type Snapshot struct {
	Upstream   Stats
	Merge      Stats
	Downstream Stats
	Probes     []GroupStats

	RampQueue    float64          // 周期平均排队长度（veh）
	RampQueueMax int              // 周期内最大瞬时排队（veh）
	SignalState  mapv2.LightState // 周期结束时的信号状态
	SignalPhase  int32            // 周期结束时仿真器报告的相位索引，无信号灯时为-1
	Time         float64          // 周期结束时的仿真时间（秒）
}

// Group 按名称查找检测组结果
func (s Snapshot) Group(name string) (Stats, bool) {
	switch name {
	case config.GroupUpstream:
		return s.Upstream, true
	case config.GroupMerge:
		return s.Merge, true
	case config.GroupDownstream:
		return s.Downstream, true
	}
	p, ok := lo.Find(s.Probes, func(p GroupStats) bool { return p.Name == name })
	return p.Stats, ok
}

// FailedSensors 本周期读取失败的线圈总数
func (s Snapshot) FailedSensors() int {
	return s.Upstream.Failed + s.Merge.Failed + s.Downstream.Failed +
		lo.SumBy(s.Probes, func(p GroupStats) int { return p.Failed })
}

// Layout 检测器布设，启动时由拓扑生成一次
type Layout struct {
	Upstream   Group
	Merge      Group
	Downstream Group
	Probes     []Group
	RampEdge   string
}

// NewLayout 根据配置生成检测器布设
func NewLayout(reader entity.IEdgeReader, c config.Detectors) Layout {
	return Layout{
		Upstream:   ResolveGroup(reader, c.Upstream),
		Merge:      ResolveGroup(reader, c.Merge),
		Downstream: ResolveGroup(reader, c.Downstream),
		Probes: lo.Map(c.Probes, func(p config.DetectorGroup, _ int) Group {
			return ResolveGroup(reader, p)
		}),
		RampEdge: c.RampEdge,
	}
}

// Collect 对每个检测组各聚合一次，生成快照中的线圈部分
// 说明：排队长度与信号状态由控制循环填写
func (l Layout) Collect(reader entity.ILoopReader, window float64) Snapshot {
	return Snapshot{
		Upstream:   Aggregate(reader, l.Upstream, window),
		Merge:      Aggregate(reader, l.Merge, window),
		Downstream: Aggregate(reader, l.Downstream, window),
		Probes: lo.Map(l.Probes, func(g Group, _ int) GroupStats {
			return GroupStats{Name: g.Name(), Stats: Aggregate(reader, g, window)}
		}),
		SignalPhase: -1,
	}
}
