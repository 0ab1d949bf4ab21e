package queuesim

import (
	"fmt"
	"math"
)

// 参考路网中的路段、线圈与信号灯名称
const (
	EdgeUpstream   = "main_road"
	EdgeMerge      = "bottle_neck"
	EdgeDownstream = "end_main_road"
	EdgeRamp       = "on_ramp"
	SignalID       = "ramp_meter"

	PhaseGreen int32 = 0
	PhaseRed   int32 = 1
)

const (
	vehicleLength = 4.5 // 有效车长（m），用于由密度换算占有率
	zoneLength    = 0.5 // 每个检测区域的长度（km）
)

// zone 一个主线检测区域
type zone struct {
	edge  string
	lanes int
	loops []*loop
	next  int // 轮流分配车辆到车道

	density float64 // 每车道密度（veh/km）
	speed   float64 // 区域平均速度（m/s）
}

func newZone(edge, prefix string, lanes int) *zone {
	z := &zone{edge: edge, lanes: lanes}
	for i := range lanes {
		z.loops = append(z.loops, &loop{id: fmt.Sprintf("%s_%d", prefix, i)})
	}
	return z
}

// pass 本步有n辆车通过区域内的线圈，按车道轮流分配
func (z *zone) pass(n int) []int {
	counts := make([]int, z.lanes)
	for range n {
		counts[z.next]++
		z.next = (z.next + 1) % z.lanes
	}
	return counts
}

// vehicles 区域内当前的车辆数
func (z *zone) vehicles() int {
	return int(math.Round(z.density * zoneLength * float64(z.lanes)))
}

// occupancy 由密度换算的占有率（%）
func (z *zone) occupancy() float64 {
	return min(z.density*vehicleLength/10, 100)
}

// loop 线圈
// 说明：按统计区间累计，区间结束时生成上一区间的结果，与SUMO的E1检测器一致
type loop struct {
	id string

	count   int     // 当前区间通过的车辆数
	occSum  float64 // 当前区间占有率按时长的累加
	elapsed float64 // 当前区间已统计时长

	last      lastInterval
	stepCount int
	stepSpeed float64
}

type lastInterval struct {
	count     int
	occupancy float64
}

// record 记录一个仿真步的结果
func (l *loop) record(dt float64, count int, occupancy, speed float64) {
	l.count += count
	l.occSum += occupancy * dt
	l.elapsed += dt
	l.stepCount = count
	l.stepSpeed = speed
	if count == 0 {
		l.stepSpeed = -1
	}
}

// closeInterval 结束当前统计区间
func (l *loop) closeInterval() {
	occ := 0.
	if l.elapsed > 0 {
		occ = l.occSum / l.elapsed
	}
	l.last = lastInterval{count: l.count, occupancy: occ}
	l.count, l.occSum, l.elapsed = 0, 0, 0
}

// greenshields 格林希尔治模型
// 说明：qc为每车道通行能力（veh/h），vf为自由流速度（km/h），kj=4qc/vf
type greenshields struct {
	qc, vf float64
}

func (g greenshields) jam() float64 { return 4 * g.qc / g.vf }
func (g greenshields) critical() float64 { return g.jam() / 2 }

// freeDensity 非拥堵分支上流量q（veh/h/车道）对应的密度
func (g greenshields) freeDensity(q float64) float64 {
	ratio := min(max(q/g.qc, 0), 1)
	return g.critical() * (1 - math.Sqrt(1-ratio))
}

// speed 密度k对应的速度（m/s）
func (g greenshields) speed(k float64) float64 {
	return max(g.vf*(1-k/g.jam()), 0) / 3.6
}
