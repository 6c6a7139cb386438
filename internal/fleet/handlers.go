package fleet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charging-platform/vcp-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/vcp-simulator/internal/events"
	"github.com/charging-platform/vcp-simulator/internal/ocpp"
)

// buildRegistry 为单个桩构建消息注册表：出站描述符与CSMS发起的处理器
func (m *Manager) buildRegistry(mc *ManagedCharger) *ocpp.Registry {
	r := ocpp.NewRegistry()

	// 本端发起的动作
	outgoing := []struct {
		action      ocpp16.Action
		newResponse func() interface{}
		onResponse  ocpp.ResponseHandler
	}{
		{ocpp16.ActionBootNotification, func() interface{} { return &ocpp16.BootNotificationResponse{} }, nil},
		{ocpp16.ActionHeartbeat, func() interface{} { return &ocpp16.HeartbeatResponse{} }, nil},
		{ocpp16.ActionStatusNotification, func() interface{} { return &ocpp16.StatusNotificationResponse{} }, nil},
		{ocpp16.ActionAuthorize, func() interface{} { return &ocpp16.AuthorizeResponse{} }, nil},
		{ocpp16.ActionStartTransaction, func() interface{} { return &ocpp16.StartTransactionResponse{} }, m.startTransactionResponseHandler(mc)},
		{ocpp16.ActionStopTransaction, func() interface{} { return &ocpp16.StopTransactionResponse{} }, nil},
		{ocpp16.ActionMeterValues, func() interface{} { return &ocpp16.MeterValuesResponse{} }, nil},
		{ocpp16.ActionDataTransfer, func() interface{} { return &ocpp16.DataTransferResponse{} }, nil},
		{ocpp16.ActionFirmwareStatusNotification, func() interface{} { return &ocpp16.FirmwareStatusNotificationResponse{} }, nil},
		{ocpp16.ActionDiagnosticsStatusNotification, func() interface{} { return &ocpp16.DiagnosticsStatusNotificationResponse{} }, nil},
	}
	for _, d := range outgoing {
		r.Register(&ocpp.Descriptor{
			Action:      string(d.action),
			Direction:   ocpp.DirectionOutgoing,
			NewResponse: d.newResponse,
			OnResponse:  d.onResponse,
		})
	}

	// CSMS发起的动作
	incoming := []struct {
		action     ocpp16.Action
		newRequest func() interface{}
		onRequest  ocpp.RequestHandler
	}{
		{ocpp16.ActionReset, func() interface{} { return &ocpp16.ResetRequest{} }, m.handleReset(mc)},
		{ocpp16.ActionTriggerMessage, func() interface{} { return &ocpp16.TriggerMessageRequest{} }, m.handleTriggerMessage(mc)},
		{ocpp16.ActionChangeConfiguration, func() interface{} { return &ocpp16.ChangeConfigurationRequest{} }, m.handleChangeConfiguration(mc)},
		{ocpp16.ActionGetConfiguration, func() interface{} { return &ocpp16.GetConfigurationRequest{} }, m.handleGetConfiguration(mc)},
		{ocpp16.ActionChangeAvailability, func() interface{} { return &ocpp16.ChangeAvailabilityRequest{} }, m.handleChangeAvailability(mc)},
		{ocpp16.ActionRemoteStartTransaction, func() interface{} { return &ocpp16.RemoteStartTransactionRequest{} }, m.handleRemoteStart(mc)},
		{ocpp16.ActionRemoteStopTransaction, func() interface{} { return &ocpp16.RemoteStopTransactionRequest{} }, m.handleRemoteStop(mc)},
		{ocpp16.ActionUnlockConnector, func() interface{} { return &ocpp16.UnlockConnectorRequest{} }, m.handleUnlockConnector(mc)},
		{ocpp16.ActionDataTransfer, func() interface{} { return &ocpp16.DataTransferRequest{} }, m.handleDataTransfer(mc)},
		{ocpp16.ActionClearCache, func() interface{} { return &ocpp16.ClearCacheRequest{} }, m.handleClearCache(mc)},
		{ocpp16.ActionReserveNow, func() interface{} { return &ocpp16.ReserveNowRequest{} }, m.handleReserveNow(mc)},
		{ocpp16.ActionCancelReservation, func() interface{} { return &ocpp16.CancelReservationRequest{} }, m.handleCancelReservation(mc)},
		{ocpp16.ActionSetChargingProfile, func() interface{} { return &ocpp16.SetChargingProfileRequest{} }, m.handleSetChargingProfile(mc)},
		{ocpp16.ActionClearChargingProfile, func() interface{} { return &ocpp16.ClearChargingProfileRequest{} }, m.handleClearChargingProfile(mc)},
		{ocpp16.ActionGetCompositeSchedule, func() interface{} { return &ocpp16.GetCompositeScheduleRequest{} }, m.handleGetCompositeSchedule(mc)},
		{ocpp16.ActionSendLocalList, func() interface{} { return &ocpp16.SendLocalListRequest{} }, m.handleSendLocalList(mc)},
		{ocpp16.ActionGetLocalListVersion, func() interface{} { return &ocpp16.GetLocalListVersionRequest{} }, m.handleGetLocalListVersion(mc)},
	}
	for _, d := range incoming {
		r.Register(&ocpp.Descriptor{
			Action:     string(d.action),
			Direction:  ocpp.DirectionIncoming,
			NewRequest: d.newRequest,
			OnRequest:  d.onRequest,
		})
	}

	return r
}

// startTransactionResponseHandler 把CSMS分配的transactionId登记到交易管理器
func (m *Manager) startTransactionResponseHandler(mc *ManagedCharger) ocpp.ResponseHandler {
	return func(call *ocpp.Call, response interface{}) {
		resp, ok := response.(*ocpp16.StartTransactionResponse)
		if !ok {
			return
		}
		var req ocpp16.StartTransactionRequest
		if err := json.Unmarshal(call.Payload, &req); err != nil {
			mc.log.ErrorWithErr(err, "failed to recover StartTransaction request payload")
			return
		}
		if resp.IdTagInfo.Status != ocpp16.AuthorizationStatusAccepted {
			mc.log.Warnf("StartTransaction for %s not accepted: %s", req.IdTag, resp.IdTagInfo.Status)
			return
		}
		mc.txmgr.StartTransaction(resp.TransactionId, req.IdTag, req.ConnectorId, mc.sessionMeterFunc)
		mc.publish(events.NewTransactionStartedEvent(mc.cfg.CpID, resp.TransactionId, req.ConnectorId, req.IdTag))
	}
}

func (m *Manager) handleReset(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.ResetRequest)
		mc.log.Infof("reset requested (%s), closing session", req.Type)
		// 应答先出队，再模拟重启断开
		go func() {
			time.Sleep(200 * time.Millisecond)
			if err := m.Disconnect(mc.cfg.CpID); err != nil {
				mc.log.ErrorWithErr(err, "reset disconnect failed")
			}
		}()
		return &ocpp16.ResetResponse{Status: ocpp16.ResetStatusAccepted}, nil
	}
}

func (m *Manager) handleTriggerMessage(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.TriggerMessageRequest)

		switch req.RequestedMessage {
		case ocpp16.MessageTriggerBootNotification:
			mc.mu.Lock()
			sess := mc.sess
			mc.mu.Unlock()
			if sess == nil {
				return &ocpp16.TriggerMessageResponse{Status: ocpp16.TriggerMessageStatusRejected}, nil
			}
			go func() {
				// 让应答先出队
				time.Sleep(100 * time.Millisecond)
				tctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if _, err := mc.sendBootNotification(tctx, sess); err != nil {
					mc.log.ErrorWithErr(err, "triggered BootNotification failed")
				}
			}()
			return &ocpp16.TriggerMessageResponse{Status: ocpp16.TriggerMessageStatusAccepted}, nil

		case ocpp16.MessageTriggerHeartbeat:
			go func() {
				time.Sleep(100 * time.Millisecond)
				if err := ctx.Conn.Send(string(ocpp16.ActionHeartbeat), &ocpp16.HeartbeatRequest{}); err != nil {
					mc.log.ErrorWithErr(err, "triggered Heartbeat failed")
				}
			}()
			return &ocpp16.TriggerMessageResponse{Status: ocpp16.TriggerMessageStatusAccepted}, nil

		case ocpp16.MessageTriggerStatusNotification:
			go func() {
				time.Sleep(100 * time.Millisecond)
				for _, c := range mc.Connectors() {
					if req.ConnectorId != nil && *req.ConnectorId != c.ID {
						continue
					}
					ts := ocpp16.Now()
					snReq := &ocpp16.StatusNotificationRequest{
						ConnectorId: c.ID,
						ErrorCode:   c.ErrorCode,
						Status:      c.Status,
						Timestamp:   &ts,
					}
					if err := ctx.Conn.Send(string(ocpp16.ActionStatusNotification), snReq); err != nil {
						mc.log.ErrorWithErr(err, "triggered StatusNotification failed")
					}
				}
			}()
			return &ocpp16.TriggerMessageResponse{Status: ocpp16.TriggerMessageStatusAccepted}, nil

		default:
			return &ocpp16.TriggerMessageResponse{Status: ocpp16.TriggerMessageStatusNotImplemented}, nil
		}
	}
}

func (m *Manager) handleChangeConfiguration(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.ChangeConfigurationRequest)
		status := mc.confKeys.Set(req.Key, req.Value)
		mc.log.Infof("ChangeConfiguration %s=%s -> %s", req.Key, req.Value, status)
		return &ocpp16.ChangeConfigurationResponse{Status: status}, nil
	}
}

func (m *Manager) handleGetConfiguration(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.GetConfigurationRequest)
		keys, unknown := mc.confKeys.Get(req.Key)
		return &ocpp16.GetConfigurationResponse{ConfigurationKey: keys, UnknownKey: unknown}, nil
	}
}

func (m *Manager) handleChangeAvailability(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.ChangeAvailabilityRequest)

		status := ocpp16.ChargePointStatusAvailable
		if req.Type == ocpp16.AvailabilityTypeInoperative {
			status = ocpp16.ChargePointStatusUnavailable
		}

		apply := func(connectorID int) {
			if err := mc.setStatus(connectorID, status, ocpp16.ChargePointErrorCodeNoError); err != nil {
				mc.log.ErrorWithErr(err, "change availability failed")
			}
		}

		if req.ConnectorId == 0 {
			for _, c := range mc.Connectors() {
				apply(c.ID)
			}
		} else {
			apply(req.ConnectorId)
		}
		return &ocpp16.ChangeAvailabilityResponse{Status: ocpp16.AvailabilityStatusAccepted}, nil
	}
}

func (m *Manager) handleRemoteStart(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.RemoteStartTransactionRequest)
		connectorID := 1
		if req.ConnectorId != nil {
			connectorID = *req.ConnectorId
		}
		go func() {
			if err := m.StartTransaction(mc.cfg.CpID, connectorID, req.IdTag); err != nil {
				mc.log.ErrorWithErr(err, "remote start transaction failed")
			}
		}()
		return &ocpp16.RemoteStartTransactionResponse{Status: ocpp16.RemoteStartStopStatusAccepted}, nil
	}
}

func (m *Manager) handleRemoteStop(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.RemoteStopTransactionRequest)

		mc.mu.Lock()
		connectorID := 0
		for _, c := range mc.connectors {
			if c.TransactionID != nil && *c.TransactionID == req.TransactionId {
				connectorID = c.ID
				break
			}
		}
		mc.mu.Unlock()

		if connectorID == 0 {
			return &ocpp16.RemoteStopTransactionResponse{Status: ocpp16.RemoteStartStopStatusRejected}, nil
		}

		go func() {
			reason := ocpp16.ReasonRemote
			if err := m.StopTransaction(mc.cfg.CpID, connectorID, &reason); err != nil {
				mc.log.ErrorWithErr(err, "remote stop transaction failed")
			}
		}()
		return &ocpp16.RemoteStopTransactionResponse{Status: ocpp16.RemoteStartStopStatusAccepted}, nil
	}
}

func (m *Manager) handleUnlockConnector(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		return &ocpp16.UnlockConnectorResponse{Status: ocpp16.UnlockStatusUnlocked}, nil
	}
}

func (m *Manager) handleDataTransfer(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		return &ocpp16.DataTransferResponse{Status: ocpp16.DataTransferStatusAccepted}, nil
	}
}

func (m *Manager) handleClearCache(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		return &ocpp16.ClearCacheResponse{Status: ocpp16.ClearCacheStatusAccepted}, nil
	}
}

func (m *Manager) handleReserveNow(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.ReserveNowRequest)

		mc.mu.Lock()
		mc.reservations[req.ReservationId] = req.ConnectorId
		mc.mu.Unlock()

		if req.ConnectorId > 0 {
			if err := mc.setStatus(req.ConnectorId, ocpp16.ChargePointStatusReserved, ocpp16.ChargePointErrorCodeNoError); err != nil {
				mc.log.ErrorWithErr(err, "reserve now failed")
			}
		}
		return &ocpp16.ReserveNowResponse{Status: ocpp16.ReservationStatusAccepted}, nil
	}
}

func (m *Manager) handleCancelReservation(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.CancelReservationRequest)

		mc.mu.Lock()
		connectorID, ok := mc.reservations[req.ReservationId]
		delete(mc.reservations, req.ReservationId)
		mc.mu.Unlock()

		if ok && connectorID > 0 {
			if err := mc.setStatus(connectorID, ocpp16.ChargePointStatusAvailable, ocpp16.ChargePointErrorCodeNoError); err != nil {
				mc.log.ErrorWithErr(err, "cancel reservation failed")
			}
		}
		return &ocpp16.CancelReservationResponse{Status: ocpp16.CancelReservationStatusAccepted}, nil
	}
}

func (m *Manager) handleSetChargingProfile(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		return &ocpp16.SetChargingProfileResponse{Status: ocpp16.ChargingProfileStatusAccepted}, nil
	}
}

func (m *Manager) handleClearChargingProfile(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		return &ocpp16.ClearChargingProfileResponse{Status: ocpp16.ClearChargingProfileStatusAccepted}, nil
	}
}

func (m *Manager) handleGetCompositeSchedule(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		return &ocpp16.GetCompositeScheduleResponse{Status: ocpp16.GetCompositeScheduleStatusAccepted}, nil
	}
}

func (m *Manager) handleSendLocalList(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		req := request.(*ocpp16.SendLocalListRequest)
		mc.mu.Lock()
		mc.localListVersion = req.ListVersion
		mc.mu.Unlock()
		return &ocpp16.SendLocalListResponse{Status: ocpp16.UpdateStatusAccepted}, nil
	}
}

func (m *Manager) handleGetLocalListVersion(mc *ManagedCharger) ocpp.RequestHandler {
	return func(ctx *ocpp.RequestContext, request interface{}) (interface{}, *ocpp.CallError) {
		mc.mu.Lock()
		version := mc.localListVersion
		mc.mu.Unlock()
		return &ocpp16.GetLocalListVersionResponse{ListVersion: version}, nil
	}
}
