package detector

// QueueAccumulator 匝道排队长度累加器
// 说明：每个仿真步累加一次路段上的瞬时车辆数，周期结束时除以周期长度，与线圈的区间统计相互独立
type QueueAccumulator struct {
	sum   float64
	ticks int
	max   int
}

// Reset 清空累加状态，每个控制周期开始时调用
func (q *QueueAccumulator) Reset() {
	*q = QueueAccumulator{}
}

// Add 累加一个仿真步的瞬时车辆数
func (q *QueueAccumulator) Add(vehicles int) {
	q.sum += float64(vehicles)
	q.ticks++
	q.max = max(q.max, vehicles)
}

func (q *QueueAccumulator) Ticks() int { return q.ticks }

// Max 本周期内的最大瞬时排队
func (q *QueueAccumulator) Max() int { return q.max }

// Mean 周期平均排队长度（veh）
func (q *QueueAccumulator) Mean(cycle float64) float64 {
	if cycle <= 0 {
		return 0
	}
	return q.sum / cycle
}
