package control4

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCommandMessage_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantTS  time.Time
		wantErr bool
	}{
		{
			name:   "with timestamp",
			input:  `{"id":"c1","timestamp":"2026-01-15T10:30:00Z","device_id":"101","command":"set_hvac_mode","parameters":{"hvac_mode":"cool"},"source":"api"}`,
			wantTS: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "without timestamp",
			input: `{"id":"c1","device_id":"101","command":"turn_on"}`,
		},
		{
			name:    "bad timestamp",
			input:   `{"id":"c1","timestamp":"yesterday","command":"turn_on"}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			input:   `[1,2]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd CommandMessage
			err := json.Unmarshal([]byte(tt.input), &cmd)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if cmd.ID != "c1" {
				t.Errorf("ID = %q", cmd.ID)
			}
			if !cmd.Timestamp.Equal(tt.wantTS) {
				t.Errorf("Timestamp = %v, want %v", cmd.Timestamp, tt.wantTS)
			}
		})
	}
}

func TestNewAckError_Status(t *testing.T) {
	cmd := CommandMessage{ID: "c1", DeviceID: "7"}

	ack := NewAckError(cmd, ErrCodeTimeout, "no answer")
	if ack.Status != AckTimeout {
		t.Errorf("timeout ack status = %s", ack.Status)
	}

	ack = NewAckError(cmd, ErrCodeInvalidCommand, "nope")
	if ack.Status != AckFailed || ack.Error.Code != ErrCodeInvalidCommand || ack.Error.Message != "nope" {
		t.Errorf("ack = %+v", ack)
	}
	if ack.CommandID != "c1" || ack.DeviceID != "7" || ack.Protocol != Protocol {
		t.Errorf("ack = %+v", ack)
	}

	ok := NewAckMessage(cmd, AckAccepted)
	if ok.Error != nil {
		t.Errorf("accepted ack has error %+v", ok.Error)
	}
	data, _ := json.Marshal(ok)
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, present := raw["error"]; present {
		t.Error("accepted ack should omit error")
	}
}

func TestNewStateMessage(t *testing.T) {
	fan := NewFan(Identity{ID: 12, Name: "Porch Fan", Area: "Porch"},
		map[string]any{AttrCurrentSpeed: 2.0}, nil, nil)

	msg := NewStateMessage(fan)
	if msg.DeviceID != "12" || msg.Type != TypeFan || msg.Name != "Porch Fan" || msg.Area != "Porch" {
		t.Errorf("message = %+v", msg)
	}
	if !msg.Available || msg.Protocol != Protocol {
		t.Errorf("message = %+v", msg)
	}
	st, ok := msg.State.(FanState)
	if !ok {
		t.Fatalf("State type = %T, want FanState", msg.State)
	}
	if st.Percentage == nil || *st.Percentage != 50 {
		t.Errorf("Percentage = %v, want 50", st.Percentage)
	}
}

func TestTopicHelpers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{StateTopic(101), "graylogic/state/control4/101"},
		{CommandTopic(101), "graylogic/command/control4/101"},
		{AckTopic("101"), "graylogic/ack/control4/101"},
		{ResponseTopic("req-1"), "graylogic/response/control4/req-1"},
		{HealthTopic(), "graylogic/health/control4"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %s, want %s", tt.got, tt.want)
		}
	}
}
