// 随机数引擎，包装了golang.org/x/exp/rand，提供参考仿真器需要的离散分布、伯努利与泊松抽样
package randengine

import (
	"flag"
	"math"

	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎（非线程安全）
// 说明：参考仿真器只在控制循环所在协程中使用，不需要加锁
type Engine struct {
	*rand.Rand // 底层随机数生成器
}

// New 创建随机数引擎
// 参数：seed-随机数种子
// 说明：种子偏移量允许在不修改配置的情况下调整随机数序列
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + *seedOffset))}
}

// Reseed 以新的种子重置随机数序列，用于每回合可复现的抽样
func (e *Engine) Reseed(seed uint64) {
	e.Seed(seed + *seedOffset)
}

// DiscreteDistribution 按给定权重抽取一个索引
// 参数：weight-权重数组，每个元素表示对应索引的概率权重
// 返回：随机生成的索引值（0到len(weight)-1）
// 算法说明：
// 1. 在[0, 总权重)范围内生成随机数
// 2. 累加权重，返回第一个累积值超过随机数的索引
// 说明：权重全为0时没有合法结果，直接panic
func (e *Engine) DiscreteDistribution(weight []float64) int32 {
	random := .0
	for _, w := range weight {
		random += w
	}
	random *= e.Float64()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > random {
			return int32(i)
		}
	}
	log.Panicf("DiscreteDistribution: sum: %f random: %f", sum, random)
	return -1
}

// PTrue 以指定概率返回true
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}

// Poisson 泊松分布抽样
// 参数：lambda-期望值
// 返回：非负整数样本，lambda非正时为0
// 算法说明：Knuth乘积法，lambda较大时拆分为若干段分别抽样再求和，避免exp(-lambda)下溢
func (e *Engine) Poisson(lambda float64) int {
	const step = 30.
	n := 0
	for lambda > step {
		n += e.poisson(step)
		lambda -= step
	}
	if lambda > 0 {
		n += e.poisson(lambda)
	}
	return n
}

func (e *Engine) poisson(lambda float64) int {
	limit := math.Exp(-lambda)
	k := 0
	p := e.Float64()
	for p > limit {
		k++
		p *= e.Float64()
	}
	return k
}
