// 观测与奖励构造：把周期快照归一化为[0,1]向量，并计算加权奖励
package observation

import (
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/detector"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

// Builder 观测与奖励构造器，启动时由检测器布设与配置生成一次
type Builder struct {
	maxFlows []float64 // 上游、合流区、下游与各探测组的最大流量，与快照中的组顺序一致
	norm     config.Normalization
	weights  config.Reward
	cycle    float64
}

// NewBuilder 创建观测与奖励构造器
func NewBuilder(layout detector.Layout, rc *config.RuntimeConfig) *Builder {
	maxFlows := []float64{layout.Upstream.MaxFlow(), layout.Merge.MaxFlow(), layout.Downstream.MaxFlow()}
	for _, g := range layout.Probes {
		maxFlows = append(maxFlows, g.MaxFlow())
	}
	return &Builder{
		maxFlows: maxFlows,
		norm:     rc.All.Observation,
		weights:  rc.All.Reward,
		cycle:    rc.C.Cycle,
	}
}

// Size 观测向量长度
func (b *Builder) Size() int {
	return 3*len(b.maxFlows) + 2
}

// Observation 构造观测向量
// 功能：按上游、合流区、下游、各探测组的顺序依次写入归一化的流量、占有率与速度，
// 最后是归一化的匝道排队长度与上一周期的绿灯时长
// 参数：s-周期快照，prevGreen-上一周期的绿灯时长（秒）
// 返回：长度为Size()、每个元素都在[0,1]内的向量
func (b *Builder) Observation(s detector.Snapshot, prevGreen float64) []float64 {
	groups := append([]detector.Stats{s.Upstream, s.Merge, s.Downstream},
		lo.Map(s.Probes, func(p detector.GroupStats, _ int) detector.Stats { return p.Stats })...)
	obs := make([]float64, 0, b.Size())
	for i, maxFlow := range b.maxFlows {
		var st detector.Stats
		if i < len(groups) {
			st = groups[i]
		}
		obs = append(obs,
			normalize(st.Flow, maxFlow),
			normalize(st.Occupancy, b.norm.MaxOccupancy),
			normalize(st.Speed, b.norm.FreeflowSpeed),
		)
	}
	obs = append(obs,
		normalize(s.RampQueue, b.norm.MaxRampQueue),
		normalize(prevGreen, b.cycle),
	)
	return obs
}

// Reward 奖励的各项与总和
// 说明：各项已乘以权重并带有符号，Total为各项之和
type Reward struct {
	MergeSpeed        float64
	UpstreamSpeed     float64
	DownstreamSpeed   float64
	MergeOccupancy    float64
	UpstreamOccupancy float64
	RampQueue         float64
	Spillback         float64
	Total             float64
}

// Reward 计算奖励
// 算法说明：
// 1. 合流区、上游、下游速度按自由流速度归一化后为正向奖励，合流区权重最高
// 2. 合流区与上游占有率、匝道排队长度归一化后为惩罚
// 3. 排队溢出项在最大排队的一定比例以下为0，之后线性降到-1，乘以最大的权重
func (b *Builder) Reward(s detector.Snapshot) Reward {
	w := b.weights
	r := Reward{
		MergeSpeed:        w.MergeSpeed * normalize(s.Merge.Speed, b.norm.FreeflowSpeed),
		UpstreamSpeed:     w.UpstreamSpeed * normalize(s.Upstream.Speed, b.norm.FreeflowSpeed),
		DownstreamSpeed:   w.DownstreamSpeed * normalize(s.Downstream.Speed, b.norm.FreeflowSpeed),
		MergeOccupancy:    -w.MergeOccupancy * normalize(s.Merge.Occupancy, b.norm.MaxOccupancy),
		UpstreamOccupancy: -w.UpstreamOccupancy * normalize(s.Upstream.Occupancy, b.norm.MaxOccupancy),
		RampQueue:         -w.RampQueue * normalize(s.RampQueue, b.norm.MaxRampQueue),
		Spillback:         w.Spillback * Spillback(s.RampQueue, b.norm.MaxRampQueue, w.SpillbackRatio),
	}
	r.Total = r.MergeSpeed + r.UpstreamSpeed + r.DownstreamSpeed +
		r.MergeOccupancy + r.UpstreamOccupancy + r.RampQueue + r.Spillback
	return r
}

// Spillback 排队溢出惩罚，取值[-1,0]
// 参数：queue-排队长度，maxQueue-最大排队长度，ratio-开始惩罚的比例
func Spillback(queue, maxQueue, ratio float64) float64 {
	if maxQueue <= 0 {
		return 0
	}
	threshold := ratio * maxQueue
	if queue <= threshold {
		return 0
	}
	if threshold >= maxQueue {
		return -1
	}
	return -lo.Clamp((queue-threshold)/(maxQueue-threshold), 0, 1)
}

// normalize 除以上限并限制在[0,1]，上限非正时为0
func normalize(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return lo.Clamp(v/limit, 0, 1)
}
