package ocpp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCall(t *testing.T) {
	data, err := EncodeCall("msg-1", "Heartbeat", map[string]interface{}{})
	require.NoError(t, err)

	var elements []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &elements))
	require.Len(t, elements, 4)

	var indicator int
	require.NoError(t, json.Unmarshal(elements[0], &indicator))
	assert.Equal(t, 2, indicator)

	var messageID, action string
	require.NoError(t, json.Unmarshal(elements[1], &messageID))
	require.NoError(t, json.Unmarshal(elements[2], &action))
	assert.Equal(t, "msg-1", messageID)
	assert.Equal(t, "Heartbeat", action)
}

func TestEncodeCallError(t *testing.T) {
	data, err := EncodeCallError(NewCallError("msg-2", ErrorCodeNotImplemented, "no such action"))
	require.NoError(t, err)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeCallError, frame.Type)
	assert.Equal(t, "msg-2", frame.Error.MessageID)
	assert.Equal(t, ErrorCodeNotImplemented, frame.Error.Code)
	assert.Equal(t, "no such action", frame.Error.Description)
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType MessageType
		wantErr  bool
	}{
		{
			name:     "合法的Call帧",
			input:    `[2,"abc","Heartbeat",{}]`,
			wantType: MessageTypeCall,
		},
		{
			name:     "合法的CallResult帧",
			input:    `[3,"abc",{"currentTime":"2026-01-01T00:00:00.000Z"}]`,
			wantType: MessageTypeCallResult,
		},
		{
			name:     "合法的CallError帧",
			input:    `[4,"abc","GenericError","boom",{}]`,
			wantType: MessageTypeCallError,
		},
		{
			name:    "非数组",
			input:   `{"messageId":"abc"}`,
			wantErr: true,
		},
		{
			name:    "消息类型不是整数",
			input:   `["two","abc","Heartbeat",{}]`,
			wantErr: true,
		},
		{
			name:    "未知消息类型",
			input:   `[7,"abc","Heartbeat",{}]`,
			wantErr: true,
		},
		{
			name:    "元素不足",
			input:   `[2,"abc"]`,
			wantErr: true,
		},
		{
			name:    "Call缺少payload",
			input:   `[2,"abc","Heartbeat"]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				var framingErr *FramingError
				assert.ErrorAs(t, err, &framingErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, frame.Type)
		})
	}
}

func TestDecodeFrameCallFields(t *testing.T) {
	frame, err := DecodeFrame([]byte(`[2,"id-9","BootNotification",{"chargePointVendor":"V"}]`))
	require.NoError(t, err)
	require.NotNil(t, frame.Call)
	assert.Equal(t, "id-9", frame.Call.MessageID)
	assert.Equal(t, "BootNotification", frame.Call.Action)
	assert.JSONEq(t, `{"chargePointVendor":"V"}`, string(frame.Call.Payload))
}

func TestNewMessageIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
