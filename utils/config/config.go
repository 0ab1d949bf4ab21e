package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v2"
)

// 控制器类型名称
const (
	ControllerLearned     = "learned"
	ControllerAlinea      = "alinea"
	ControllerPiAlinea    = "pi_alinea"
	ControllerAlwaysGreen = "always_green"
	ControllerFixedCycle  = "fixed_cycle"
)

// 检测组名称
const (
	GroupUpstream   = "upstream"
	GroupMerge      = "merge"
	GroupDownstream = "downstream"
)

var controllers = []string{
	ControllerLearned, ControllerAlinea, ControllerPiAlinea, ControllerAlwaysGreen, ControllerFixedCycle,
}

// RuntimeConfig 运行时配置
// 功能：存储补全默认值并通过校验后的配置，构造后只读
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 控制循环配置
}

// Load 读取并严格解析YAML配置
// 功能：从文件或内存数据中解析配置，未知字段视为错误
func Load(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return c, errors.Wrap(err, "config: unmarshal")
	}
	return c, nil
}

// LoadFile 从文件读取配置
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}
	return Load(data)
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 功能：补全默认值并校验配置的一致性
// 参数：config-原始配置对象
// 返回：初始化的运行时配置指针，配置非法时返回错误
// 说明：默认值来自单匝道1x3路网的标定结果
func NewRuntimeConfig(config Config) (*RuntimeConfig, error) {
	setDefaults(&config)
	if err := validate(config); err != nil {
		return nil, err
	}
	rc := &RuntimeConfig{}
	rc.All = config
	rc.C = config.Control
	return rc, nil
}

func setDefaults(c *Config) {
	ctl := &c.Control
	ctl.Step.Interval = lo.Ternary(ctl.Step.Interval > 0, ctl.Step.Interval, 1)
	ctl.Step.Total = lo.Ternary(ctl.Step.Total > 0, ctl.Step.Total, 3600)
	ctl.Cycle = lo.Ternary(ctl.Cycle > 0, ctl.Cycle, 40)
	ctl.Warmup = lo.Ternary(ctl.Warmup > 0, ctl.Warmup, 5)
	ctl.Controller = lo.Ternary(ctl.Controller != "", ctl.Controller, ControllerLearned)
	if len(ctl.GreenMenu) == 0 {
		ctl.GreenMenu = []float64{5, 10, 15, 20, 25, 30, 35, 40}
	} else {
		ctl.GreenMenu = append([]float64(nil), ctl.GreenMenu...)
	}
	ctl.MinGreen = lo.Ternary(ctl.MinGreen > 0, ctl.MinGreen, 3)
	ctl.Heartbeat = lo.Ternary(ctl.Heartbeat > 0, ctl.Heartbeat, 10)
	ctl.FixedGreen = lo.Ternary(ctl.FixedGreen > 0, ctl.FixedGreen, ctl.Cycle/2)
	ctl.EpisodeName = lo.Ternary(ctl.EpisodeName != "", ctl.EpisodeName, "rampmeter")

	if c.Signal.GreenPhase == c.Signal.RedPhase {
		c.Signal.GreenPhase, c.Signal.RedPhase = 0, 1
	}

	d := &c.Detectors
	d.Upstream.Name = lo.Ternary(d.Upstream.Name != "", d.Upstream.Name, GroupUpstream)
	d.Merge.Name = lo.Ternary(d.Merge.Name != "", d.Merge.Name, GroupMerge)
	d.Downstream.Name = lo.Ternary(d.Downstream.Name != "", d.Downstream.Name, GroupDownstream)
	d.Upstream.MaxFlow = lo.Ternary(d.Upstream.MaxFlow > 0, d.Upstream.MaxFlow, 5490)
	d.Merge.MaxFlow = lo.Ternary(d.Merge.MaxFlow > 0, d.Merge.MaxFlow, 5490)
	d.Downstream.MaxFlow = lo.Ternary(d.Downstream.MaxFlow > 0, d.Downstream.MaxFlow, 5760)
	d.Probes = append([]DetectorGroup(nil), d.Probes...)
	for i := range d.Probes {
		d.Probes[i].MaxFlow = lo.Ternary(d.Probes[i].MaxFlow > 0, d.Probes[i].MaxFlow, 1900)
	}

	// 同一参数曾出现14.0与16.5两个取值，以16.5为准
	a := &c.Alinea
	a.CriticalOccupancy = lo.Ternary(a.CriticalOccupancy > 0, a.CriticalOccupancy, 16.5)
	a.Kr = lo.Ternary(a.Kr > 0, a.Kr, 60)
	a.MinRate = lo.Ternary(a.MinRate > 0, a.MinRate, 180)
	a.MaxRate = lo.Ternary(a.MaxRate > 0, a.MaxRate, 1800)
	a.SaturationFlow = lo.Ternary(a.SaturationFlow != 0, a.SaturationFlow, 0.5)
	a.MeasurementGroup = lo.Ternary(a.MeasurementGroup != "", a.MeasurementGroup, GroupDownstream)
	c.PiAlinea.Kp = lo.Ternary(c.PiAlinea.Kp > 0, c.PiAlinea.Kp, 60)
	c.PiAlinea.Ki = lo.Ternary(c.PiAlinea.Ki > 0, c.PiAlinea.Ki, 20)

	o := &c.Observation
	o.MaxOccupancy = lo.Ternary(o.MaxOccupancy > 0, o.MaxOccupancy, 100)
	o.FreeflowSpeed = lo.Ternary(o.FreeflowSpeed > 0, o.FreeflowSpeed, 35)
	o.MaxRampQueue = lo.Ternary(o.MaxRampQueue > 0, o.MaxRampQueue, 25)

	r := &c.Reward
	r.MergeSpeed = lo.Ternary(r.MergeSpeed > 0, r.MergeSpeed, 1.5)
	r.UpstreamSpeed = lo.Ternary(r.UpstreamSpeed > 0, r.UpstreamSpeed, 1.0)
	r.DownstreamSpeed = lo.Ternary(r.DownstreamSpeed > 0, r.DownstreamSpeed, 0.5)
	r.MergeOccupancy = lo.Ternary(r.MergeOccupancy > 0, r.MergeOccupancy, 2.0)
	r.UpstreamOccupancy = lo.Ternary(r.UpstreamOccupancy > 0, r.UpstreamOccupancy, 1.0)
	r.RampQueue = lo.Ternary(r.RampQueue > 0, r.RampQueue, 1.0)
	r.Spillback = lo.Ternary(r.Spillback > 0, r.Spillback, 20.0)
	c.Reward.SpillbackRatio = lo.Ternary(c.Reward.SpillbackRatio > 0, c.Reward.SpillbackRatio, 0.9)

	s := &c.Simulator
	s.DetectorPeriod = lo.Ternary(s.DetectorPeriod > 0, s.DetectorPeriod, ctl.Cycle)
	if len(s.Demand.Main) == 0 {
		s.Demand.Main = []float64{4000, 4500, 5000, 5500, 6000, 6500}
		s.Demand.MainWeights = []float64{0.05, 0.10, 0.15, 0.25, 0.25, 0.20}
	}
	if len(s.Demand.Ramp) == 0 {
		s.Demand.Ramp = []float64{1400, 1500, 1600, 1700, 1800, 1900, 2000}
		s.Demand.RampWeights = []float64{0.05, 0.05, 0.10, 0.15, 0.25, 0.25, 0.15}
	}
	s.Demand.MergeCapacity = lo.Ternary(s.Demand.MergeCapacity > 0, s.Demand.MergeCapacity, 6600)
	s.RampDischarge = lo.Ternary(s.RampDischarge > 0, s.RampDischarge, 0.5)
	s.FreeflowSpeed = lo.Ternary(s.FreeflowSpeed > 0, s.FreeflowSpeed, 30)
	s.CapacityDrop = lo.Ternary(s.CapacityDrop > 0, s.CapacityDrop, 0.1)

	c.Output.DB = lo.Ternary(c.Output.DB != "", c.Output.DB, "rampmeter")
	c.Output.Col = lo.Ternary(c.Output.Col != "", c.Output.Col, ctl.EpisodeName)
}

func validate(c Config) error {
	ctl := c.Control
	if !lo.Contains(controllers, ctl.Controller) {
		return errors.Errorf("config: controller must be one of %v, got %q", controllers, ctl.Controller)
	}
	if ctl.Step.Interval > ctl.Cycle {
		return errors.Errorf("config: step interval %.2f exceeds cycle %.2f", ctl.Step.Interval, ctl.Cycle)
	}
	if ctl.MinGreen+ctl.MinRed > ctl.Cycle {
		return errors.Errorf("config: min green %.2f + min red %.2f exceeds cycle %.2f", ctl.MinGreen, ctl.MinRed, ctl.Cycle)
	}
	for _, g := range ctl.GreenMenu {
		if g < 0 || g > ctl.Cycle {
			return errors.Errorf("config: green menu value %.2f outside [0, %.2f]", g, ctl.Cycle)
		}
	}
	if c.Alinea.MinRate > c.Alinea.MaxRate {
		return errors.Errorf("config: alinea min rate %.1f > max rate %.1f", c.Alinea.MinRate, c.Alinea.MaxRate)
	}
	if !lo.Contains([]string{GroupUpstream, GroupMerge, GroupDownstream}, c.Alinea.MeasurementGroup) {
		return errors.Errorf("config: unknown alinea measurement group %q", c.Alinea.MeasurementGroup)
	}
	if c.Detectors.RampEdge == "" {
		return errors.New("config: detectors.ramp_edge is required")
	}
	for _, g := range c.Detectors.Probes {
		if g.Name == "" {
			return errors.New("config: every probe group needs a name")
		}
	}
	d := c.Simulator.Demand
	if len(d.Main) != len(d.MainWeights) || len(d.Ramp) != len(d.RampWeights) {
		return errors.New("config: demand menus and weights differ in length")
	}
	if lo.Sum(d.MainWeights) <= 0 || lo.Sum(d.RampWeights) <= 0 {
		return errors.New("config: demand weights must have a positive sum")
	}
	if c.Simulator.CapacityDrop >= 1 {
		return errors.Errorf("config: capacity drop %.2f must be below 1", c.Simulator.CapacityDrop)
	}
	return nil
}
