package task

// Summary 一个回合的统计
type Summary struct {
	EpisodeID  string
	Episode    int
	Controller string

	Cycles          int
	TotalReward     float64
	QueueSum        float64 // 各周期平均排队长度之和
	MaxQueue        int     // 最大瞬时排队
	SpillbackCycles int     // 平均排队超过溢出阈值的周期数
	TransportError  string
}

// add 累加一个周期的info
// 参数：info-周期info，spillback-溢出阈值（veh）
func (s *Summary) add(info Info, spillback float64) {
	s.Cycles++
	s.TotalReward += info.Reward.Total
	s.QueueSum += info.Snapshot.RampQueue
	s.MaxQueue = max(s.MaxQueue, info.Snapshot.RampQueueMax)
	if info.Snapshot.RampQueue > spillback {
		s.SpillbackCycles++
	}
	s.TransportError = info.TransportError
}

func (s Summary) MeanReward() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return s.TotalReward / float64(s.Cycles)
}

func (s Summary) MeanQueue() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return s.QueueSum / float64(s.Cycles)
}
