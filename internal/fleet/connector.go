package fleet

import (
	"github.com/charging-platform/vcp-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/vcp-simulator/internal/sim"
)

// ConnectorState 单个连接器的运行状态，连接器ID从1起
type ConnectorState struct {
	ID               int                         `json:"id"`
	Status           ocpp16.ChargePointStatus    `json:"status"`
	ErrorCode        ocpp16.ChargePointErrorCode `json:"errorCode"`
	OfferedCurrentA  float64                     `json:"offeredCurrentA"`
	ReportedPowerW   float64                     `json:"reportedPowerW"`
	EnergyImportedWh float64                     `json:"energyImportedWh"`
	TransactionID    *int                        `json:"transactionId,omitempty"`

	car *sim.CarSimulator
}

func newConnectorState(id int) *ConnectorState {
	return &ConnectorState{
		ID:        id,
		Status:    ocpp16.ChargePointStatusAvailable,
		ErrorCode: ocpp16.ChargePointErrorCodeNoError,
	}
}

// CarStatus 插入车辆的查询快照
type CarStatus struct {
	ProfileID         string  `json:"profileId"`
	Soc               float64 `json:"soc"`
	ActualCurrentA    float64 `json:"actualCurrentA"`
	OfferedCurrentA   float64 `json:"offeredCurrentA"`
	EnergyDeliveredWh float64 `json:"energyDeliveredWh"`
	EffectivePhases   int     `json:"effectivePhases"`
}
