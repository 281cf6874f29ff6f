package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Message type tags (first field of every datagram).
const (
	TagDiscovery = "ID"
	TagTest      = "TEST"
	TagStatus    = "STATUS"
)

const (
	delimiter = ";"
	separator = "="
)

// Status is the RESULT value carried by a TEST message.
type Status string

const (
	StatusStarted Status = "STARTED"
	StatusStopped Status = "STOPPED"
	StatusError   Status = "ERROR"
)

// Message is one decoded datagram. Concrete types are Discovery, TestResult,
// Telemetry, Command, Unknown and Malformed.
type Message interface {
	isMessage()
}

// Discovery is the device's reply to the ID probe.
type Discovery struct {
	Model  string
	Serial string
}

// TestResult reports the device's test state.
// Text is only set for StatusError.
type TestResult struct {
	Status Status
	Text   string
}

// Telemetry is one voltage/current sample.
type Telemetry struct {
	TimeMs     int
	MilliVolts int
	MilliAmps  int
}

// Command is a TEST;CMD=... message sent to the device.
// DurationMs and RateMs are zero for STOP.
type Command struct {
	Name       string
	DurationMs int
	RateMs     int
}

// Unknown carries a tag this codec does not understand.
type Unknown struct {
	Tag string
	Raw string
}

// Malformed is a datagram with a known tag whose fields cannot be decoded.
type Malformed struct {
	Raw    string
	Reason string
}

func (Discovery) isMessage()  {}
func (TestResult) isMessage() {}
func (Telemetry) isMessage()  {}
func (Command) isMessage()    {}
func (Unknown) isMessage()    {}
func (Malformed) isMessage()  {}

// Discovery probe, start and stop commands as sent by the interface.

func EncodeDiscovery() string { return TagDiscovery }

func EncodeStart(durationMs, rateMs int) string {
	return fmt.Sprintf("TEST;CMD=START;DURATION=%d;RATE=%d;", durationMs, rateMs)
}

func EncodeStop() string { return "TEST;CMD=STOP;" }

// Device-side encoders, used by the fixture simulator.

func EncodeIdentity(model, serial string) string {
	return fmt.Sprintf("ID;MODEL=%s;SERIAL=%s;", model, serial)
}

func EncodeResult(status Status, text string) string {
	if status == StatusError {
		return fmt.Sprintf("TEST;RESULT=ERROR;MESSAGE=%s;", text)
	}
	return fmt.Sprintf("TEST;RESULT=%s;", status)
}

func EncodeTelemetry(t Telemetry) string {
	return fmt.Sprintf("STATUS;TIME=%d;MV=%d;MA=%d;", t.TimeMs, t.MilliVolts, t.MilliAmps)
}

// fields is a decoded datagram: tag plus KEY=VALUE pairs with upper-cased keys.
type fields struct {
	tag    string
	values map[string]string
}

func (f fields) get(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := f.values[k]; ok {
			return v, true
		}
	}
	return "", false
}

func (f fields) getInt(key string) (int, error) {
	v, ok := f.values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func split(raw string) (fields, error) {
	clean := strings.TrimRight(raw, "\x00 \r\n\t")
	parts := strings.Split(clean, delimiter)
	for len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return fields{}, fmt.Errorf("empty message")
	}
	f := fields{
		tag:    strings.ToUpper(strings.TrimSpace(parts[0])),
		values: make(map[string]string, len(parts)-1),
	}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, separator, 2)
		if len(kv) != 2 {
			return f, fmt.Errorf("field %q is not KEY=VALUE", p)
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		f.values[key] = kv[1]
	}
	return f, nil
}

// Decode parses a datagram received by the interface.
func Decode(raw string) Message {
	f, err := split(raw)
	if err != nil {
		return Malformed{Raw: raw, Reason: err.Error()}
	}

	switch f.tag {
	case TagDiscovery:
		model, okM := f.get("MODEL")
		serial, okS := f.get("SERIAL")
		if !okM || !okS {
			return Malformed{Raw: raw, Reason: "discovery reply needs MODEL and SERIAL"}
		}
		return Discovery{Model: model, Serial: serial}
	case TagTest:
		result, ok := f.get("RESULT")
		if !ok {
			return Malformed{Raw: raw, Reason: "test message without RESULT"}
		}
		switch Status(strings.ToUpper(result)) {
		case StatusStarted:
			return TestResult{Status: StatusStarted}
		case StatusStopped:
			return TestResult{Status: StatusStopped}
		case StatusError:
			text, _ := f.get("MESSAGE", "MSG")
			return TestResult{Status: StatusError, Text: text}
		default:
			return Malformed{Raw: raw, Reason: "test message received with unknown result " + result}
		}
	case TagStatus:
		var t Telemetry
		if t.TimeMs, err = f.getInt("TIME"); err != nil {
			return Malformed{Raw: raw, Reason: err.Error()}
		}
		if t.MilliVolts, err = f.getInt("MV"); err != nil {
			return Malformed{Raw: raw, Reason: err.Error()}
		}
		if t.MilliAmps, err = f.getInt("MA"); err != nil {
			return Malformed{Raw: raw, Reason: err.Error()}
		}
		return t
	default:
		return Unknown{Tag: f.tag, Raw: raw}
	}
}

// DecodeCommand parses a datagram received by the device.
// The bare ID probe decodes to Discovery{}.
func DecodeCommand(raw string) Message {
	f, err := split(raw)
	if err != nil {
		return Malformed{Raw: raw, Reason: err.Error()}
	}
	switch f.tag {
	case TagDiscovery:
		return Discovery{}
	case TagTest:
		name, ok := f.get("CMD")
		if !ok {
			return Malformed{Raw: raw, Reason: "test command without CMD"}
		}
		cmd := Command{Name: strings.ToUpper(name)}
		switch cmd.Name {
		case "START":
			if cmd.DurationMs, err = f.getInt("DURATION"); err != nil {
				return Malformed{Raw: raw, Reason: err.Error()}
			}
			if cmd.RateMs, err = f.getInt("RATE"); err != nil {
				return Malformed{Raw: raw, Reason: err.Error()}
			}
			if cmd.RateMs <= 0 {
				return Malformed{Raw: raw, Reason: "RATE must be positive"}
			}
		case "STOP":
		default:
			return Malformed{Raw: raw, Reason: "unknown command " + cmd.Name}
		}
		return cmd
	default:
		return Unknown{Tag: f.tag, Raw: raw}
	}
}
