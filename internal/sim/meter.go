package sim

import (
	"math/rand"
	"strconv"

	"github.com/charging-platform/vcp-simulator/internal/domain/ocpp16"
)

// MeterReading 单个采样周期的电气读数
type MeterReading struct {
	// PerPhaseCurrentA 下标0..2对应L1..L3，未激活相为0
	PerPhaseCurrentA  [3]float64
	PerPhaseVoltageV  [3]float64
	PowerW            float64
	EnergyIncrementWh float64
	BodyTempC         float64
	CableTempC        float64
	OfferedCurrentA   float64
	EffectivePhases   int
	// Soc 插车时为当前电量百分比，否则nil
	Soc *float64
	// CarStopped 车辆满电且电流为0，调用方据此切SuspendedEV
	CarStopped bool
}

// BuildReading 执行一个采样周期：推进车辆模拟（如有）并套用电压模型
func BuildReading(car *CarSimulator, offeredCurrentA float64, chargerPhases int, intervalSeconds float64, rng *rand.Rand) MeterReading {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	var perPhase float64
	var effectivePhases int
	reading := MeterReading{OfferedCurrentA: offeredCurrentA}

	if car != nil {
		car.SetOfferedCurrent(offeredCurrentA)
		result := car.Tick(intervalSeconds)
		perPhase = result.DrawA
		effectivePhases = car.EffectivePhases()
		soc := result.Soc * 100
		reading.Soc = &soc
		reading.CarStopped = result.Soc >= 1.0 && car.ActualCurrentA() == 0
	} else {
		perPhase = offeredCurrentA
		effectivePhases = chargerPhases
	}
	reading.EffectivePhases = effectivePhases

	for k := 0; k < 3; k++ {
		var current float64
		if k < effectivePhases {
			current = perPhase
		}
		reading.PerPhaseCurrentA[k] = current
		// 负载电压跌落模型
		reading.PerPhaseVoltageV[k] = 232 - 0.15*current + (rng.Float64() - 0.5)
		if k < effectivePhases {
			reading.PowerW += reading.PerPhaseVoltageV[k] * current
		}
	}

	reading.EnergyIncrementWh = reading.PowerW * intervalSeconds / 3600
	reading.BodyTempC = 20 + (rng.Float64()*2 - 1)
	reading.CableTempC = 19 + (rng.Float64()*2 - 1)

	return reading
}

// BuildMeterValue 将读数组装为OCPP MeterValue，chargerPhases为1时省略L2/L3采样
func BuildMeterValue(reading MeterReading, cumulativeEnergyWh float64, chargerPhases int) ocpp16.MeterValue {
	ctx := ocpp16.ReadingContextSamplePeriodic
	phases := [3]ocpp16.Phase{ocpp16.PhaseL1, ocpp16.PhaseL2, ocpp16.PhaseL3}

	samples := []ocpp16.SampledValue{
		sample(formatFloat(cumulativeEnergyWh/1000, 3), ocpp16.MeasurandEnergyActiveImportRegister,
			ocpp16.UnitOfMeasureKWh, ocpp16.LocationOutlet, nil, ctx),
		sample(formatFloat(reading.OfferedCurrentA, 1), ocpp16.MeasurandCurrentOffered,
			ocpp16.UnitOfMeasureA, ocpp16.LocationOutlet, nil, ctx),
		sample(formatFloat(reading.BodyTempC, 1), ocpp16.MeasurandTemperature,
			ocpp16.UnitOfMeasureCelsius, ocpp16.LocationBody, nil, ctx),
		sample(formatFloat(reading.CableTempC, 1), ocpp16.MeasurandTemperature,
			ocpp16.UnitOfMeasureCelsius, ocpp16.LocationCable, nil, ctx),
	}

	reportPhases := 3
	if chargerPhases == 1 {
		reportPhases = 1
	}
	for k := 0; k < reportPhases; k++ {
		phase := phases[k]
		samples = append(samples,
			sample(formatFloat(reading.PerPhaseVoltageV[k], 1), ocpp16.MeasurandVoltage,
				ocpp16.UnitOfMeasureV, ocpp16.LocationOutlet, &phase, ctx),
			sample(formatFloat(reading.PerPhaseCurrentA[k], 1), ocpp16.MeasurandCurrentImport,
				ocpp16.UnitOfMeasureA, ocpp16.LocationOutlet, &phase, ctx),
		)
	}

	samples = append(samples, sample(formatFloat(reading.PowerW, 1), ocpp16.MeasurandPowerActiveImport,
		ocpp16.UnitOfMeasureW, ocpp16.LocationOutlet, nil, ctx))

	if reading.Soc != nil {
		samples = append(samples, sample(formatFloat(*reading.Soc, 1), ocpp16.MeasurandSoC,
			ocpp16.UnitOfMeasurePercent, ocpp16.LocationEV, nil, ctx))
	}

	return ocpp16.MeterValue{
		Timestamp:    ocpp16.Now(),
		SampledValue: samples,
	}
}

// BuildSimpleMeterValue 会话自带定时器使用的单相简化模型
func BuildSimpleMeterValue(offeredCurrentA float64, cumulativeEnergyWh float64) ocpp16.MeterValue {
	ctx := ocpp16.ReadingContextSamplePeriodic
	powerW := nominalVoltage * offeredCurrentA

	return ocpp16.MeterValue{
		Timestamp: ocpp16.Now(),
		SampledValue: []ocpp16.SampledValue{
			sample(formatFloat(cumulativeEnergyWh/1000, 3), ocpp16.MeasurandEnergyActiveImportRegister,
				ocpp16.UnitOfMeasureKWh, ocpp16.LocationOutlet, nil, ctx),
			sample(formatFloat(offeredCurrentA, 1), ocpp16.MeasurandCurrentImport,
				ocpp16.UnitOfMeasureA, ocpp16.LocationOutlet, nil, ctx),
			sample(formatFloat(powerW, 1), ocpp16.MeasurandPowerActiveImport,
				ocpp16.UnitOfMeasureW, ocpp16.LocationOutlet, nil, ctx),
		},
	}
}

func sample(value string, measurand ocpp16.Measurand, unit ocpp16.UnitOfMeasure, location ocpp16.Location, phase *ocpp16.Phase, ctx ocpp16.ReadingContext) ocpp16.SampledValue {
	m := measurand
	u := unit
	l := location
	c := ctx
	return ocpp16.SampledValue{
		Value:     value,
		Context:   &c,
		Measurand: &m,
		Phase:     phase,
		Location:  &l,
		Unit:      &u,
	}
}

func formatFloat(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
