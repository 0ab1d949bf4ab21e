package main

import (
	"encoding/base64"
	"flag"
	"os"

	"git.fiblab.net/sim/syncer/v3"
	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/sim/queuesim"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/task"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/output"
	"github.com/tsinghua-fib-lab/agentsociety-rampmeter/utils/randengine"
)

const selfName = "rampmeter"

var (
	// 分布式模式syncer地址，如果设置为空则激活独立部署模式
	syncerAddr = flag.String("syncer", "", "syncer address (empty means standalone mode), e.g. http://localhost:53001")
	// 本程序监听的RPC地址
	grpcAddr = flag.String("listen", ":51102", "gRPC listening address")
	// 配置文件路径
	configPath = flag.String("config", "", "config file path")
	// 配置文件Base64编码后的数据
	configData = flag.String("config-data", "", "config file base64 encoded data")
	// 覆盖配置文件中的控制器类型
	controllerKind = flag.String("controller", "", "controller override: learned alinea pi_alinea always_green fixed_cycle")
	// 运行的回合数
	episodes = flag.Int("episodes", 1, "number of episodes to run")
	// learned控制器在命令行模式下使用随机策略，该参数为随机种子
	policySeed = flag.Uint64("policy.seed", 0, "seed of the random policy used by the learned controller")

	// log
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}
	logLevel = flag.String("log.level", "info", "日志级别（可选项：trace debug info warn error critical off）")

	log = logrus.WithField("module", "rampmeter")
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}
	// .env中可以给出MongoDB连接串，不存在时忽略
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env loaded: %v", err)
	}

	// 获取配置
	var file []byte
	var err error
	if *configPath != "" {
		file, err = os.ReadFile(*configPath)
		if err != nil {
			log.Panicf("config file load err: %v", err)
		}
	} else if *configData != "" {
		file, err = base64.StdEncoding.DecodeString(*configData)
		if err != nil {
			log.Panicf("config data load err: %v", err)
		}
	}
	// 未给出配置时全部使用默认值
	c, err := config.Load(file)
	if err != nil {
		log.Panicf("config file load err: %v", err)
	}
	if *controllerKind != "" {
		c.Control.Controller = *controllerKind
	}
	if uri := os.Getenv("RAMPMETER_MONGO_URI"); uri != "" {
		c.Output.URI = uri
	}
	// 未配置检测器时使用参考路网的布设
	d := &c.Detectors
	if d.Upstream.Edge == "" && len(d.Upstream.Loops) == 0 {
		d.Upstream.Edge = queuesim.EdgeUpstream
	}
	if d.Merge.Edge == "" && len(d.Merge.Loops) == 0 {
		d.Merge.Edge = queuesim.EdgeMerge
	}
	if d.Downstream.Edge == "" && len(d.Downstream.Loops) == 0 {
		d.Downstream.Edge = queuesim.EdgeDownstream
	}
	if d.RampEdge == "" {
		d.RampEdge = queuesim.EdgeRamp
	}
	rc, err := config.NewRuntimeConfig(c)
	if err != nil {
		log.Panicf("invalid config: %v", err)
	}
	log.Infof("%+v", rc.All)

	recorder, err := output.New(rc.All.Output)
	if err != nil {
		log.Panicf("failed to open output: %v", err)
	}
	ctx, err := task.NewContext(rc, queuesim.New(rc), recorder)
	if err != nil {
		log.Panicf("failed to create task: %v", err)
	}

	sidecar := syncer.NewSidecar(selfName, *grpcAddr, *syncerAddr)
	ctx.Register(sidecar)
	// sidecar协程，用于提供RPC服务
	closeCh := make(chan struct{})
	go func() {
		if err := sidecar.Serve(); err != nil {
			log.Panicf("failed to serve: %v", err)
		}
		close(closeCh)
	}()

	var summaries []task.Summary
	if rc.C.Controller == config.ControllerLearned {
		summaries = runRandomPolicy(ctx, *episodes, *policySeed)
	} else {
		summaries = ctx.Run(*episodes)
	}
	for _, s := range summaries {
		log.Infof("episode %d (%s): controller %s, %d cycles, total reward %.3f, mean queue %.2f veh, max queue %d veh",
			s.Episode, s.EpisodeID, s.Controller, s.Cycles, s.TotalReward, s.MeanQueue(), s.MaxQueue)
	}

	if err := ctx.Close(); err != nil {
		log.Errorf("close: %v", err)
	}
	sidecar.Close()
	// wait for graceful stop
	<-closeCh
}

// runRandomPolicy 以均匀随机动作驱动learned控制器
// 说明：没有外部策略时用于检查环境接口，同时给出随机策略的基线
func runRandomPolicy(ctx *task.Context, episodes int, seed uint64) []task.Summary {
	rng := randengine.New(seed)
	n := len(ctx.RuntimeConfig().C.GreenMenu)
	summaries := make([]task.Summary, 0, episodes)
	for range episodes {
		ctx.Reset()
		for !ctx.Done() {
			ctx.Step(rng.Intn(n))
		}
		summaries = append(summaries, ctx.Summary())
	}
	return summaries
}
