// 检测器数据聚合：把线圈的区间统计转换为流量、占有率与流量加权平均速度
package detector

import (
	"slices"

	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

// Group 一个检测区域内的有序线圈集合
// 说明：启动时生成一次，之后不可修改
type Group struct {
	name    string
	loops   []string
	maxFlow float64 // 归一化用的最大流量（veh/h）
}

// NewGroup 创建检测组，复制传入的线圈列表
func NewGroup(name string, loops []string, maxFlow float64) Group {
	return Group{name: name, loops: slices.Clone(loops), maxFlow: maxFlow}
}

// ResolveGroup 根据配置生成检测组
// 功能：配置中给出线圈列表时直接使用，否则取配置路段上的全部线圈
// 参数：reader-路段数据读取接口，c-检测组配置
// 返回：检测组；路段查询失败时返回空检测组并记录警告
func ResolveGroup(reader entity.IEdgeReader, c config.DetectorGroup) Group {
	if len(c.Loops) > 0 || c.Edge == "" {
		return NewGroup(c.Name, c.Loops, c.MaxFlow)
	}
	loops, err := reader.LoopsOnEdge(c.Edge)
	if err != nil {
		log.Warnf("cannot list loops on edge %s for group %s: %v", c.Edge, c.Name, err)
		return NewGroup(c.Name, nil, c.MaxFlow)
	}
	if len(loops) == 0 {
		log.Warnf("no loops on edge %s for group %s", c.Edge, c.Name)
	}
	return NewGroup(c.Name, loops, c.MaxFlow)
}

func (g Group) Name() string { return g.name }
func (g Group) Len() int { return len(g.loops) }
func (g Group) MaxFlow() float64 { return g.maxFlow }
func (g Group) Loops() []string { return slices.Clone(g.loops) }

// Stats 一个检测组在一个统计窗口内的聚合结果
type Stats struct {
	Flow      float64 // 流量（veh/h）
	Occupancy float64 // 平均占有率（%）
	Speed     float64 // 流量加权平均速度（m/s）
	Failed    int     // 读取失败而被跳过的线圈数
}

// Aggregate 聚合一个检测组的线圈数据
// 功能：按窗口长度把区间通过车辆数折算为小时流量，对占有率取平均，按通过车辆数对速度加权
// 参数：reader-线圈数据读取接口，g-检测组，window-统计窗口长度（秒）
// 返回：聚合结果
// 算法说明：
// 1. 空检测组返回全0
// 2. 读取失败的线圈跳过，不计入平均
// 3. 没有车辆通过时速度为0，不视为错误
func Aggregate(reader entity.ILoopReader, g Group, window float64) Stats {
	var s Stats
	valid := 0
	count := 0
	occupancy := 0.
	speedSum := 0.
	speedCount := 0
	for _, id := range g.loops {
		st, ok := readLoop(reader, id)
		if !ok {
			s.Failed++
			continue
		}
		valid++
		count += st.IntervalCount
		occupancy += st.IntervalOccupancy
		if st.LastStepCount > 0 && st.LastStepMeanSpeed >= 0 {
			speedSum += st.LastStepMeanSpeed * float64(st.LastStepCount)
			speedCount += st.LastStepCount
		}
	}
	if valid == 0 {
		return s
	}
	if window > 0 {
		s.Flow = float64(count) * 3600 / window
	}
	s.Occupancy = occupancy / float64(valid)
	if speedCount > 0 {
		s.Speed = speedSum / float64(speedCount)
	}
	return s
}

func readLoop(reader entity.ILoopReader, id string) (entity.LoopStats, bool) {
	st, err := reader.LoopStats(id)
	if err != nil {
		log.Debugf("loop %s: %v", id, err)
		return entity.LoopStats{}, false
	}
	return st, true
}
