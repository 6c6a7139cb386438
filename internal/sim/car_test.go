package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustProfile(t *testing.T, id string) CarProfile {
	p, err := ProfileByID(id)
	require.NoError(t, err)
	return p
}

func TestProfileCatalogue(t *testing.T) {
	profiles := Profiles()
	assert.GreaterOrEqual(t, len(profiles), 4)

	ids := make(map[string]bool)
	for _, p := range profiles {
		ids[p.ID] = true
	}
	for _, id := range []string{"generic-small", "generic-medium", "generic-large", "1p-32a"} {
		assert.True(t, ids[id], "missing profile %s", id)
	}

	_, err := ProfileByID("no-such-profile")
	assert.Error(t, err)
}

func TestEffectivePhasesIsMinOfCarAndCharger(t *testing.T) {
	// 三相车插单相桩
	car := NewCarSimulator(mustProfile(t, "generic-medium"), 1, 0.5, rand.New(rand.NewSource(1)))
	assert.Equal(t, 1, car.EffectivePhases())

	// 单相车插三相桩
	car = NewCarSimulator(mustProfile(t, "1p-32a"), 3, 0.5, rand.New(rand.NewSource(1)))
	assert.Equal(t, 1, car.EffectivePhases())
}

func TestTickAtFullBatteryReturnsZeros(t *testing.T) {
	car := NewCarSimulator(mustProfile(t, "1p-32a"), 1, 1.0, rand.New(rand.NewSource(1)))
	car.SetOfferedCurrent(32)

	result := car.Tick(15)
	assert.Zero(t, result.DrawA)
	assert.Zero(t, result.PowerW)
	assert.Zero(t, result.EnergyIncrementWh)
	assert.Equal(t, 1.0, result.Soc)
	assert.Zero(t, car.ActualCurrentA())
}

func TestTickDrawStaysUnderOfferedCurrent(t *testing.T) {
	car := NewCarSimulator(mustProfile(t, "1p-32a"), 1, 0.2, rand.New(rand.NewSource(7)))
	car.SetOfferedCurrent(16)

	// 低SoC时车端可接受远超16A，应被allowed减margin限制
	result := car.Tick(15)
	assert.Less(t, result.DrawA, 16.0)
	assert.Greater(t, result.DrawA, 14.0)
}

func TestTickTapersNearFullCharge(t *testing.T) {
	car := NewCarSimulator(mustProfile(t, "1p-32a"), 1, 0.98, rand.New(rand.NewSource(3)))
	car.SetOfferedCurrent(32)

	// soc=0.98已深入衰减区，首个tick即低于整定电流
	result := car.Tick(15)
	assert.Less(t, result.DrawA, 31.0)
	assert.Greater(t, result.DrawA, 0.0)
}

func TestSocConvergesToFullAndCurrentDropsToZero(t *testing.T) {
	car := NewCarSimulator(mustProfile(t, "1p-32a"), 1, 0.98, rand.New(rand.NewSource(5)))
	car.SetOfferedCurrent(32)

	prevSoc := car.Soc()
	for i := 0; i < 10000; i++ {
		result := car.Tick(60)
		require.GreaterOrEqual(t, result.Soc, prevSoc, "soc must be non-decreasing")
		prevSoc = result.Soc
		if result.Soc >= 1.0 {
			break
		}
	}

	assert.Equal(t, 1.0, car.Soc())
	assert.Zero(t, car.ActualCurrentA())
}

func TestEnergyDeliveredAccumulates(t *testing.T) {
	car := NewCarSimulator(mustProfile(t, "generic-medium"), 3, 0.3, rand.New(rand.NewSource(9)))
	car.SetOfferedCurrent(16)

	prev := car.EnergyDeliveredWh()
	for i := 0; i < 5; i++ {
		car.Tick(15)
		assert.GreaterOrEqual(t, car.EnergyDeliveredWh(), prev)
		prev = car.EnergyDeliveredWh()
	}
	assert.Greater(t, prev, 0.0)
}

func TestOnboardChargerLimitsDraw(t *testing.T) {
	// generic-small: 7.4kW单相 → 车端上限约32A，但maxAcCurrentA=16先生效
	car := NewCarSimulator(mustProfile(t, "generic-small"), 1, 0.2, rand.New(rand.NewSource(11)))
	car.SetOfferedCurrent(64)

	result := car.Tick(15)
	assert.LessOrEqual(t, result.DrawA, 16.3)
}

func TestSocPersistsAcrossOfferedCurrentChanges(t *testing.T) {
	car := NewCarSimulator(mustProfile(t, "generic-large"), 3, 0.4, rand.New(rand.NewSource(13)))
	car.SetOfferedCurrent(32)
	car.Tick(60)

	soc := car.Soc()
	car.SetOfferedCurrent(8)
	assert.Equal(t, soc, car.Soc())
}
