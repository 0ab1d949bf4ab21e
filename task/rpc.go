package task

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/entity/signal"
)

// meterStatus 控制循环每步发布一次的匝道信号状态
type meterStatus struct {
	enabled   bool
	timing    signal.Timing
	state     mapv2.LightState
	remaining float64
	ok        bool
}

// publish 发布当前信号状态
func (ctx *Context) publish() {
	st := meterStatus{
		enabled:   ctx.scheduler.Enabled(),
		timing:    ctx.scheduler.Timing(),
		state:     ctx.scheduler.State(),
		remaining: ctx.scheduler.RemainingTime(),
		ok:        ctx.scheduler.Ok(),
	}
	ctx.mtx.Lock()
	defer ctx.mtx.Unlock()
	ctx.status = st
}

func (ctx *Context) published() meterStatus {
	ctx.mtx.RLock()
	defer ctx.mtx.RUnlock()
	return ctx.status
}

// Register 将时钟与匝道信号灯服务注册到sidecar
func (ctx *Context) Register(sidecar *syncer.Sidecar) {
	ctx.clock.Register(sidecar)
	svc := &meterService{ctx: ctx}
	sidecar.Register(
		mapv2connect.TrafficLightServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return mapv2connect.NewTrafficLightServiceHandler(svc, opts...)
		},
	)
}

// meterService 匝道信号灯RPC服务
// 说明：匝道信号灯以两相位程序（绿、红）的形式对外展示，相位时长为当前周期的分配
type meterService struct {
	mapv2connect.UnimplementedTrafficLightServiceHandler

	ctx *Context
}

func (s *meterService) checkJunction(id int32) error {
	if id != s.ctx.rc.All.Signal.JunctionID {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("junction id does not exist"))
	}
	return nil
}

// GetTrafficLight RPC接口：获取匝道信号灯状态
// 返回：两相位程序、当前相位索引（0绿灯，1红灯）与剩余时间；没有信号灯时返回空响应
func (s *meterService) GetTrafficLight(
	ctx context.Context, in *connect.Request[mapv2.GetTrafficLightRequest],
) (*connect.Response[mapv2.GetTrafficLightResponse], error) {
	req := in.Msg
	if err := s.checkJunction(req.JunctionId); err != nil {
		return nil, err
	}
	st := s.ctx.published()
	if !st.enabled {
		return connect.NewResponse(&mapv2.GetTrafficLightResponse{}), nil
	}
	phaseIndex := int32(1)
	if st.state == mapv2.LightState_LIGHT_STATE_GREEN {
		phaseIndex = 0
	}
	return connect.NewResponse(&mapv2.GetTrafficLightResponse{
		TrafficLight: &mapv2.TrafficLight{
			JunctionId: req.JunctionId,
			Phases: []*mapv2.Phase{
				{Duration: st.timing.Green, States: []mapv2.LightState{mapv2.LightState_LIGHT_STATE_GREEN}},
				{Duration: st.timing.Red, States: []mapv2.LightState{mapv2.LightState_LIGHT_STATE_RED}},
			},
		},
		PhaseIndex:    phaseIndex,
		TimeRemaining: st.remaining,
	}), nil
}

// SetTrafficLightStatus RPC接口：开启或关闭匝道控制
// 说明：关闭后从下一个周期开始全绿，true表示正常工作
func (s *meterService) SetTrafficLightStatus(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightStatusRequest],
) (*connect.Response[mapv2.SetTrafficLightStatusResponse], error) {
	req := in.Msg
	if err := s.checkJunction(req.JunctionId); err != nil {
		return nil, err
	}
	if !s.ctx.scheduler.Enabled() {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no ramp signal in network"))
	}
	s.ctx.scheduler.SetOk(req.Ok)
	log.Infof("ramp metering switched %s", lo.Ternary(req.Ok, "on", "off"))
	return connect.NewResponse(&mapv2.SetTrafficLightStatusResponse{}), nil
}
