package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// 单相标称电压，整个电气模型以此为基准
const nominalVoltage = 230.0

// TaperCurve SoC衰减曲线类型
type TaperCurve string

const (
	TaperCurveLinear      TaperCurve = "Linear"
	TaperCurveExponential TaperCurve = "Exponential"
)

// CarProfile 模拟车型的静态参数
type CarProfile struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	BatteryCapacityKwh float64    `json:"batteryCapacityKwh"`
	MaxAcCurrentA      float64    `json:"maxAcCurrentA"`
	OnboardChargerKw   float64    `json:"onboardChargerKw"`
	Phases             int        `json:"phases"`
	TaperStartSoc      float64    `json:"taperStartSoc"`
	TaperEndSoc        float64    `json:"taperEndSoc"`
	TaperCurve         TaperCurve `json:"taperCurve"`
}

// 内置车型目录
var builtinProfiles = []CarProfile{
	{
		ID: "generic-small", Name: "Generic small EV",
		BatteryCapacityKwh: 30, MaxAcCurrentA: 16, OnboardChargerKw: 7.4,
		Phases: 1, TaperStartSoc: 0.80, TaperEndSoc: 1.0, TaperCurve: TaperCurveLinear,
	},
	{
		ID: "generic-medium", Name: "Generic medium EV",
		BatteryCapacityKwh: 60, MaxAcCurrentA: 32, OnboardChargerKw: 11,
		Phases: 3, TaperStartSoc: 0.80, TaperEndSoc: 1.0, TaperCurve: TaperCurveExponential,
	},
	{
		ID: "generic-large", Name: "Generic large EV",
		BatteryCapacityKwh: 100, MaxAcCurrentA: 32, OnboardChargerKw: 22,
		Phases: 3, TaperStartSoc: 0.85, TaperEndSoc: 1.0, TaperCurve: TaperCurveExponential,
	},
	{
		ID: "1p-32a", Name: "Single-phase 32A EV",
		BatteryCapacityKwh: 40, MaxAcCurrentA: 32, OnboardChargerKw: 7.4,
		Phases: 1, TaperStartSoc: 0.85, TaperEndSoc: 1.0, TaperCurve: TaperCurveLinear,
	},
}

// Profiles 全部内置车型
func Profiles() []CarProfile {
	out := make([]CarProfile, len(builtinProfiles))
	copy(out, builtinProfiles)
	return out
}

// ProfileByID 按ID查找车型
func ProfileByID(id string) (CarProfile, error) {
	for _, p := range builtinProfiles {
		if p.ID == id {
			return p, nil
		}
	}
	return CarProfile{}, fmt.Errorf("unknown car profile %q", id)
}

// CarSimulator 单连接器上插入的模拟车辆
type CarSimulator struct {
	profile CarProfile
	// effectivePhases 车与桩相数取小
	effectivePhases int
	// margin 构造时采样一次的功率余量，U[0.5,1.5)
	margin float64
	rng    *rand.Rand

	soc               float64
	offeredCurrentA   float64
	actualCurrentA    float64
	energyDeliveredWh float64
}

// NewCarSimulator 创建车辆模拟器，initialSoc截断到[0,1]
func NewCarSimulator(profile CarProfile, chargerPhases int, initialSoc float64, rng *rand.Rand) *CarSimulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	effective := profile.Phases
	if chargerPhases < effective {
		effective = chargerPhases
	}
	if effective < 1 {
		effective = 1
	}
	return &CarSimulator{
		profile:         profile,
		effectivePhases: effective,
		margin:          0.5 + rng.Float64(),
		rng:             rng,
		soc:             clamp(initialSoc, 0, 1),
	}
}

// Profile 车型参数
func (c *CarSimulator) Profile() CarProfile { return c.profile }

// EffectivePhases 实际参与充电的相数
func (c *CarSimulator) EffectivePhases() int { return c.effectivePhases }

// Soc 当前电量
func (c *CarSimulator) Soc() float64 { return c.soc }

// ActualCurrentA 最近一次tick的实际电流
func (c *CarSimulator) ActualCurrentA() float64 { return c.actualCurrentA }

// OfferedCurrentA 桩侧允许电流
func (c *CarSimulator) OfferedCurrentA() float64 { return c.offeredCurrentA }

// EnergyDeliveredWh 累计充入能量
func (c *CarSimulator) EnergyDeliveredWh() float64 { return c.energyDeliveredWh }

// SetOfferedCurrent 更新桩侧允许电流，SoC不受影响
func (c *CarSimulator) SetOfferedCurrent(amps float64) {
	c.offeredCurrentA = amps
}

// TickResult 单次tick的输出
type TickResult struct {
	DrawA             float64
	PowerW            float64
	EnergyIncrementWh float64
	Soc               float64
}

// Tick 推进一个采样周期，计算实际电流与能量增量
func (c *CarSimulator) Tick(intervalSeconds float64) TickResult {
	if c.soc >= 1.0 {
		c.actualCurrentA = 0
		return TickResult{Soc: c.soc}
	}

	// 车端每相最大接受电流
	carMax := c.profile.MaxAcCurrentA
	if limit := c.profile.OnboardChargerKw * 1000 / (nominalVoltage * float64(c.profile.Phases)); limit < carMax {
		carMax = limit
	}

	t := 1.0
	if c.soc >= c.profile.TaperStartSoc {
		p := clamp((c.soc-c.profile.TaperStartSoc)/(c.profile.TaperEndSoc-c.profile.TaperStartSoc), 0, 1)
		switch c.profile.TaperCurve {
		case TaperCurveExponential:
			t = math.Exp(-3 * p)
		default:
			t = 1 - p
		}
		// 保持电流严格为正直到soc恰好为1
		if t < 0.05 {
			t = 0.05
		}
	}

	taperedCar := carMax * t

	offered := c.offeredCurrentA - c.margin
	if offered < 0 {
		offered = 0
	}

	draw := taperedCar
	if offered < draw {
		draw = offered
	}

	draw += c.rng.Float64()*0.4 - 0.2
	if draw < 0 {
		draw = 0
	}
	draw = math.Round(draw*10) / 10

	powerW := nominalVoltage * draw * float64(c.effectivePhases)
	energyIncrementWh := powerW * intervalSeconds / 3600

	c.energyDeliveredWh += energyIncrementWh
	c.soc += energyIncrementWh / (c.profile.BatteryCapacityKwh * 1000)

	if c.soc >= 1.0 {
		c.soc = 1.0
		c.actualCurrentA = 0
	} else {
		c.actualCurrentA = draw
	}

	return TickResult{
		DrawA:             draw,
		PowerW:            powerW,
		EnergyIncrementWh: energyIncrementWh,
		Soc:               c.soc,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
