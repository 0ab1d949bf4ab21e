package task

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/clock"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/controller"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/detector"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/observation"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/signal"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/output"
)

// errFinished 仿真器报告没有待运行的车辆，提前结束当前相位段
var errFinished = errors.New("simulation finished")

// Context 匝道控制任务上下文
// 功能：持有一个回合所需的全部组件与状态，按周期驱动仿真器、相位调度器与控制器
// 说明：仿真器是独占资源，Reset/Step/Run只能在同一个协程中调用；RPC只读取发布的状态
type Context struct {
	// 运行时配置
	rc *config.RuntimeConfig
	// 仿真器
	sim entity.ISimulator
	// 时钟
	clock *clock.Clock
	// 相位调度器
	scheduler *signal.Scheduler
	// 控制器
	ctrl controller.IController
	// 检测器布设
	layout detector.Layout
	// 观测与奖励构造器
	builder *observation.Builder
	// 结果输出
	recorder output.IRecorder

	// 线圈统计窗口（秒）
	window float64
	// 匝道排队累加器
	queue detector.QueueAccumulator

	// 回合状态
	nextEpisode  int
	episodeID    string
	cycle        int
	lastDecision float64           // 上一次决策时的仿真时间
	prevGreen    float64           // 上一周期的绿灯时长
	snapshot     detector.Snapshot // 上一周期的快照
	done         bool
	finished     bool
	transportErr error
	info         Info
	summary      Summary

	// 供RPC读取的状态
	mtx    sync.RWMutex
	status meterStatus
}

// NewContext 创建匝道控制任务上下文
// 参数：rc-运行时配置，sim-仿真器，recorder-结果输出（可为nil）
// 返回：任务上下文，控制器类型未知时返回错误
// 算法说明：
// 1. 由仿真器拓扑生成检测器布设（只生成一次）
// 2. 查找受控信号灯，找不到时相位调度器降级为空操作
// 3. 创建控制器与观测/奖励构造器
func NewContext(rc *config.RuntimeConfig, sim entity.ISimulator, recorder output.IRecorder) (*Context, error) {
	ctrl, err := controller.New(rc.C.Controller, rc)
	if err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = output.Discard{}
	}
	step := rc.C.Step
	if dt := sim.DeltaT(); dt > 0 && dt != step.Interval {
		log.Warnf("simulator step %.2fs overrides configured interval %.2fs", dt, step.Interval)
		step.Interval = dt
	}
	layout := detector.NewLayout(sim, rc.All.Detectors)
	ctx := &Context{
		rc:        rc,
		sim:       sim,
		clock:     clock.New(step),
		scheduler: signal.NewScheduler(sim, rc.All.Signal, rc.C.Cycle),
		ctrl:      ctrl,
		layout:    layout,
		builder:   observation.NewBuilder(layout, rc),
		recorder:  recorder,
		window:    rc.All.Simulator.DetectorPeriod,
		done:      true,
	}
	log.Infof("controller %s, signal %q, %d probe groups, observation size %d",
		ctrl.Kind(), ctx.scheduler.TLID(), len(layout.Probes), ctx.builder.Size())
	return ctx, nil
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.rc
}

func (ctx *Context) Controller() controller.IController {
	return ctx.ctrl
}

func (ctx *Context) Scheduler() *signal.Scheduler {
	return ctx.scheduler
}

// learned 是否由学习策略给出动作
func (ctx *Context) learned() bool {
	return ctx.ctrl.Kind() == config.ControllerLearned
}

// Reset 开始新的回合
// 功能：重启仿真器，信号灯置为整周期红灯，预热若干步后生成第一个观测
// 返回：初始观测（基线控制器为nil）与info
// 说明：与仿真器通信失败时回合直接结束，info中记录失败原因
func (ctx *Context) Reset() ([]float64, Info) {
	if !ctx.done {
		// 上一回合被提前中止
		ctx.endEpisode()
	}
	episode := ctx.nextEpisode
	ctx.nextEpisode++
	ctx.episodeID = uuid.NewString()
	ctx.cycle = 0
	// 回合开始时把上一周期的绿灯时长视为菜单中的第一项
	ctx.prevGreen = lo.FirstOr(ctx.rc.C.GreenMenu, 0)
	ctx.done, ctx.finished, ctx.transportErr = false, false, nil
	ctx.snapshot = detector.Snapshot{SignalPhase: -1}
	ctx.summary = Summary{EpisodeID: ctx.episodeID, Episode: episode, Controller: ctx.ctrl.Kind()}
	ctx.clock.Init(episode)
	ctx.ctrl.Reset()
	ctx.queue.Reset()

	if err := ctx.sim.Reset(episode); err != nil {
		ctx.fail(err)
	} else if err := ctx.scheduler.Reset(); err != nil {
		ctx.fail(err)
	} else {
		ticks := max(int(math.Round(ctx.rc.C.Warmup/ctx.clock.DT)), 1)
		ctx.runSegment(ticks)
		// 预热期间的排队不计入第一个观测
		ctx.queue.Reset()
	}
	ctx.lastDecision = ctx.clock.T
	ctx.collect()
	ctx.done = ctx.transportErr != nil
	info := ctx.buildInfo(controller.NoAction, ctx.scheduler.Timing(), observation.Reward{})
	ctx.finishCycle(info)
	log.Infof("episode %d (%s) started at %s", episode, ctx.episodeID, ctx.clock)
	if ctx.done {
		ctx.summary.TransportError = info.TransportError
		ctx.endEpisode()
	}
	if !ctx.learned() {
		return nil, info
	}
	return ctx.builder.Observation(ctx.snapshot, ctx.prevGreen), info
}

// Step 执行一个控制周期
// 功能：由控制器决定绿红分配，依次驱动绿灯段与红灯段，周期结束时聚合传感器数据并计算观测与奖励
// 参数：action-学习策略的动作序号，越界时截断；基线控制器传入controller.NoAction
// 返回：观测（基线为nil）、奖励（基线为0）、回合是否结束、info
// 算法说明：
// 1. 清空排队累加器
// 2. 绿灯段：每步推进仿真器并累加匝道瞬时车辆数
// 3. 红灯段：同上，直到周期结束
// 4. 每个检测组聚合一次，生成快照
// 5. 仿真器报告结束、通信失败或仿真时间达到回合时长时回合结束
func (ctx *Context) Step(action int) ([]float64, float64, bool, Info) {
	if ctx.done {
		log.Warnf("step called on a finished episode, call Reset first")
		return nil, 0, true, ctx.info
	}
	timing := ctx.ctrl.DecideCycleTiming(controller.DecisionState{
		Action:   action,
		Snapshot: ctx.snapshot,
		Elapsed:  ctx.clock.T - ctx.lastDecision,
	})
	ctx.lastDecision = ctx.clock.T
	ctx.queue.Reset()

	executed, err := ctx.scheduler.StartCycle(timing)
	if err != nil {
		ctx.fail(err)
	}
	// 红灯步数取周期步数的剩余部分，保证绿灯与红灯步数之和等于周期步数
	greenTicks := ctx.ticks(executed.Green)
	redTicks := max(ctx.ticks(executed.Cycle())-greenTicks, 0)
	if ctx.runSegment(greenTicks) && executed.Red > 0 {
		if err := ctx.scheduler.BeginRed(); err != nil {
			ctx.fail(err)
		} else {
			ctx.runSegment(redTicks)
		}
	}
	ctx.collect()
	reward := ctx.builder.Reward(ctx.snapshot)
	ctx.prevGreen = executed.Green
	ctx.cycle++
	ctx.checkFinished()
	ctx.done = ctx.transportErr != nil || ctx.finished || ctx.clock.EpisodeEnded()

	st := ctx.ctrl.State()
	info := ctx.buildInfo(lo.Ternary(ctx.learned(), st.Action, controller.NoAction), executed, reward)
	ctx.finishCycle(info)
	ctx.summary.add(info, ctx.rc.All.Observation.MaxRampQueue*ctx.rc.All.Reward.SpillbackRatio)
	if hb := ctx.rc.C.Heartbeat; hb > 0 && ctx.cycle%hb == 0 {
		log.Infof("%s cycle %d: green %.1fs, queue %.1f veh, merge occ %.1f%%, reward %.3f",
			ctx.clock, ctx.cycle, executed.Green, ctx.snapshot.RampQueue, ctx.snapshot.Merge.Occupancy, reward.Total)
	}
	if ctx.done {
		ctx.endEpisode()
	}
	if !ctx.learned() {
		return nil, 0, ctx.done, info
	}
	return ctx.builder.Observation(ctx.snapshot, ctx.prevGreen), reward.Total, ctx.done, info
}

// Info 上一个周期的info
func (ctx *Context) Info() Info {
	return ctx.info
}

// Summary 当前回合到目前为止的统计
func (ctx *Context) Summary() Summary {
	return ctx.summary
}

// Done 当前回合是否已经结束
func (ctx *Context) Done() bool {
	return ctx.done
}

// Run 以基线方式运行若干个完整回合
// 功能：每个回合reset后不断执行Step(NoAction)直到回合结束
// 参数：episodes-回合数
// 返回：每个回合的统计
func (ctx *Context) Run(episodes int) []Summary {
	summaries := make([]Summary, 0, episodes)
	for range episodes {
		ctx.Reset()
		for !ctx.done {
			ctx.Step(controller.NoAction)
		}
		summaries = append(summaries, ctx.summary)
	}
	return summaries
}

// Close 写出剩余结果并关闭仿真器
func (ctx *Context) Close() error {
	err := ctx.recorder.Close(context.Background())
	if sErr := ctx.sim.Close(); sErr != nil && err == nil {
		err = errors.Wrap(sErr, "close simulator")
	}
	return err
}

// ticks 相位段对应的仿真步数
func (ctx *Context) ticks(duration float64) int {
	if duration <= 0 {
		return 0
	}
	return int(math.Round(duration / ctx.clock.DT))
}

// runSegment 推进n步
// 返回：是否完整执行；仿真器结束或通信失败时提前返回false
func (ctx *Context) runSegment(n int) bool {
	if ctx.transportErr != nil {
		return false
	}
	for range n {
		if err := ctx.tick(); err != nil {
			if !errors.Is(err, errFinished) {
				ctx.fail(err)
			}
			return false
		}
	}
	return true
}

// tick 推进一步
// 算法说明：
// 1. 仿真器已没有待运行车辆时不再推进
// 2. 推进仿真器与时钟，更新相位调度器（可能切换为红灯）
// 3. 读取匝道瞬时车辆数并累加，读取失败时按0处理
func (ctx *Context) tick() error {
	ctx.checkFinished()
	if ctx.transportErr != nil {
		return ctx.transportErr
	}
	if ctx.finished {
		return errFinished
	}
	if err := ctx.sim.Advance(ctx.clock.DT); err != nil {
		return errors.Wrapf(err, "advance at %.1fs", ctx.clock.T)
	}
	ctx.clock.Tick()
	if err := ctx.scheduler.Update(ctx.clock.DT); err != nil {
		return err
	}
	n, err := ctx.sim.EdgeVehicleCount(ctx.layout.RampEdge)
	if err != nil {
		log.Debugf("ramp queue: %v", err)
		n = 0
	}
	ctx.queue.Add(n)
	ctx.publish()
	return nil
}

// checkFinished 询问仿真器是否已没有待运行车辆
func (ctx *Context) checkFinished() {
	if ctx.finished || ctx.transportErr != nil {
		return
	}
	finished, err := ctx.sim.Finished()
	if err != nil {
		ctx.fail(errors.Wrap(err, "query finished"))
		return
	}
	ctx.finished = finished
}

// fail 记录通信失败，回合随后结束，不向调用方返回错误
func (ctx *Context) fail(err error) {
	if ctx.transportErr != nil {
		return
	}
	ctx.transportErr = err
	log.Errorf("episode %d: simulator failure, ending episode: %v", ctx.clock.Episode, err)
}

// collect 每个检测组聚合一次，生成本周期快照
func (ctx *Context) collect() {
	s := ctx.layout.Collect(ctx.sim, ctx.window)
	s.RampQueue = ctx.queue.Mean(ctx.rc.C.Cycle)
	s.RampQueueMax = ctx.queue.Max()
	s.SignalState = ctx.scheduler.State()
	s.Time = ctx.clock.T
	if ctx.scheduler.Enabled() && ctx.transportErr == nil {
		if phase, err := ctx.sim.SignalPhase(ctx.scheduler.TLID()); err != nil {
			log.Debugf("signal phase: %v", err)
		} else {
			s.SignalPhase = phase
		}
	}
	if n := s.FailedSensors(); n > 0 {
		log.Debugf("%d loops unavailable in cycle %d", n, ctx.cycle)
	}
	ctx.snapshot = s
}

func (ctx *Context) buildInfo(action int, timing signal.Timing, reward observation.Reward) Info {
	info := Info{
		EpisodeID:  ctx.episodeID,
		Episode:    ctx.clock.Episode,
		Cycle:      ctx.cycle,
		Time:       ctx.clock.T,
		Controller: ctx.ctrl.Kind(),
		Action:     action,
		Timing:     timing,
		MeterOn:    ctx.scheduler.Ok(),
		Snapshot:   ctx.snapshot,
		State:      ctx.ctrl.State(),
		Reward:     reward,
		Commands:   ctx.scheduler.Commands(),
		Finished:   ctx.finished,
		Done:       ctx.done,
	}
	if ctx.transportErr != nil {
		info.TransportError = ctx.transportErr.Error()
	}
	return info
}

// finishCycle 保存info、写入结果并发布状态
func (ctx *Context) finishCycle(info Info) {
	ctx.info = info
	ctx.recorder.Append(info.Map())
	ctx.publish()
}

// endEpisode 回合结束时输出统计并写出结果
func (ctx *Context) endEpisode() {
	s := ctx.summary
	log.Infof("episode %d done at %s: %d cycles, mean reward %.3f, mean queue %.1f, max queue %d, spillback cycles %d",
		s.Episode, ctx.clock, s.Cycles, s.MeanReward(), s.MeanQueue(), s.MaxQueue, s.SpillbackCycles)
	if err := ctx.recorder.Flush(context.Background()); err != nil {
		log.Errorf("failed to write results: %v", err)
	}
}
