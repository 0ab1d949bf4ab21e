package clock

import (
	"fmt"
	"math"
	"sync"

	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
)

// Clock 回合仿真时钟
// 功能：记录当前回合内的仿真时间与步数，判断回合是否到达设定时长
// 说明：控制循环在唯一的协程中推进时钟，RPC读取通过锁保护
type Clock struct {
	clockv1connect.UnimplementedClockServiceHandler

	DT       float64 // 每步时间间隔（秒）
	END_STEP int32   // 回合结束步，回合区间[0, END)

	T            float64 // 当前时间（秒）
	InternalStep int32   // 当前步数
	Episode      int     // 当前回合序号

	mtx sync.RWMutex
}

// New 根据配置创建时钟
// 参数：stepConfig-时间步配置
// 返回：初始化完成的时钟实例
// 说明：回合时长不是步长整数倍时向上取整
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:       stepConfig.Interval,
		END_STEP: int32(math.Ceil(stepConfig.Total/stepConfig.Interval - 1e-9)),
	}
	c.Init(0)
	return c
}

// Init 开始新的回合，时间归零
func (c *Clock) Init(episode int) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.Episode = episode
	c.InternalStep = 0
	c.T = 0
}

// Tick 推进一步
func (c *Clock) Tick() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.InternalStep++
	c.T = float64(c.InternalStep) * c.DT
}

// EpisodeEnded 当前时间是否已达到回合时长
func (c *Clock) EpisodeEnded() bool {
	return c.InternalStep >= c.END_STEP
}

// Duration 回合时长（秒）
func (c *Clock) Duration() float64 {
	return float64(c.END_STEP) * c.DT
}

// now 供其他协程读取的当前时间
func (c *Clock) now() (int, float64) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.Episode, c.T
}

// String 获取时钟的字符串表示
// 返回：格式化的时间字符串（Episode X: HH:MM:SS）
func (c *Clock) String() string {
	h, m, s := c.GetHourMinuteSecond()
	return fmt.Sprintf("Episode %d: %02d:%02d:%02d", c.Episode, h, m, int(s))
}

// GetHourMinuteSecond 获取当前时间的小时、分钟、秒
// 返回：小时、分钟、秒（秒为浮点数，支持亚秒级精度）
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	hour := int(c.T) / 3600
	minute := int(c.T) % 3600 / 60
	second := c.T - float64(hour*3600+minute*60)
	return hour, minute, second
}
