// Package hardware builds the actuation frames sent to bay controllers.
package hardware

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"carwash-backend/internal/model"
	"carwash-backend/internal/parse"
)

// Command types understood by controllers.
const (
	CommandStartService    = "start_service"
	CommandPauseService    = "pause_service"
	CommandStopAll         = "stop_all"
	CommandPaymentReceived = "payment_received"
)

// Command priorities. Pause must win over any earlier start.
const (
	PriorityNormal = 1
	PriorityHigh   = 10
)

// FrameFormat documents the frame layout in every payload.
const FrameFormat = "<BITS,D1,D2,D3,D4,FREQ,FLAG>"

// Directive is one hardware actuation instruction for a bay.
type Directive struct {
	Bits      string
	Powers    [4]int
	Frequency string
	Flag      string
}

// Frame renders the directive as <BITS,D1,D2,D3,D4,FREQ,FLAG>.
func (d Directive) Frame() string {
	return fmt.Sprintf("<%s,%02d,%02d,%02d,%02d,%s,%s>",
		d.Bits, d.Powers[0], d.Powers[1], d.Powers[2], d.Powers[3], d.Frequency, d.Flag)
}

// FromService maps a wash program to its start directive.
func FromService(svc model.Service) Directive {
	bits := svc.RelayBits
	if bits == "" {
		bits = "00000000"
	}
	flag := strings.ToUpper(svc.MotorFlag)
	if flag != "F" && flag != "S" {
		flag = "F"
	}
	return Directive{
		Bits:      bits,
		Powers:    [4]int{clampPower(svc.Pump1Power), clampPower(svc.Pump2Power), clampPower(svc.Pump3Power), clampPower(svc.Pump4Power)},
		Frequency: formatFrequency(svc.MotorFrequency),
		Flag:      flag,
	}
}

// Pause is the directive that halts pumps while keeping the bay powered.
func Pause() Directive {
	return Directive{Bits: "00000001", Frequency: "0", Flag: "S"}
}

// Stop switches every relay off.
func Stop() Directive {
	return Directive{Bits: "00000000", Frequency: "0.0", Flag: "S"}
}

// FromFrame parses a frame reported by a controller.
func FromFrame(raw string) (Directive, error) {
	f, err := parse.ParseFrame(raw)
	if err != nil {
		return Directive{}, err
	}
	return Directive{Bits: f.Bits, Powers: f.Powers, Frequency: f.Frequency, Flag: f.Flag}, nil
}

func clampPower(p int) int {
	if p < 0 {
		return 0
	}
	if p > 99 {
		return 99
	}
	return p
}

// formatFrequency always keeps one decimal place, so 20 renders as "20.0".
func formatFrequency(f float64) string {
	if f <= 0 {
		return "0.0"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Payload is the JSON body stored with a queued command.
type Payload struct {
	Action        string  `json:"action"`
	BayID         int64   `json:"bay_id"`
	ServiceID     *int64  `json:"service_id,omitempty"`
	ServiceName   string  `json:"service_name,omitempty"`
	CommandFormat string  `json:"command_format"`
	Frame         string  `json:"frame"`
	PaymentAmount float64 `json:"payment_amount,omitempty"`
	PaymentType   string  `json:"payment_type,omitempty"`
}

// NewPayload builds the payload for directive d on a bay.
func NewPayload(action string, bayID int64, d Directive) Payload {
	return Payload{
		Action:        action,
		BayID:         bayID,
		CommandFormat: FrameFormat,
		Frame:         d.Frame(),
	}
}

// PaymentNotice tells the bay's kiosk that an online payment arrived. It
// carries no frame. An empty provider is reported as "online".
func PaymentNotice(bayID int64, amount float64, provider string) Payload {
	if provider == "" {
		provider = "online"
	}
	return Payload{
		Action:        CommandPaymentReceived,
		BayID:         bayID,
		ServiceName:   "Online payment",
		PaymentAmount: amount,
		PaymentType:   strings.ToLower(provider),
	}
}

// Encode serializes the payload.
func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodePayload parses a stored payload. An empty string yields an empty payload.
func DecodePayload(raw string) (Payload, error) {
	var p Payload
	if strings.TrimSpace(raw) == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("invalid command payload: %w", err)
	}
	return p, nil
}
