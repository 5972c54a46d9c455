package messaging

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// PropsReport is a decoded saveProps message.
type PropsReport struct {
	DeviceID  string
	EventTime time.Time
	// Tags is the hex frame stream, empty when the device saw no tags.
	Tags string
}

type rawProps struct {
	DeviceID string `json:"device_id"`
	Services []struct {
		EventTime  string `json:"event_time"`
		Properties struct {
			Tags *string `json:"tags"`
		} `json:"properties"`
	} `json:"services"`
}

// DecodeProps decodes a property report. A null or missing tags value is an
// empty report.
func DecodeProps(data []byte) (*PropsReport, error) {
	var raw rawProps
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing device_id", ErrMalformedEnvelope)
	}
	if len(raw.Services) == 0 {
		return nil, fmt.Errorf("%w: no services", ErrMalformedEnvelope)
	}
	svc := raw.Services[0]
	at, err := ParseEventTime(svc.EventTime)
	if err != nil {
		return nil, err
	}
	r := &PropsReport{DeviceID: raw.DeviceID, EventTime: at}
	if svc.Properties.Tags != nil {
		r.Tags = *svc.Properties.Tags
	}
	return r, nil
}

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"20060102T150405Z",
	"20060102T150405Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseEventTime accepts RFC 3339 and the compact ISO-8601 form devices
// report in. Times without a zone are UTC.
func ParseEventTime(s string) (time.Time, error) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad event_time %q", ErrMalformedEnvelope, s)
}

type rawData struct {
	Data *string `json:"data"`
}

// dataBytes returns the bytes of the data field after its first character.
// Every character must be ASCII.
func dataBytes(data []byte) ([]byte, error) {
	var raw rawData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	runes := []rune(*raw.Data)
	if len(runes) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrMalformedEnvelope)
	}
	out := make([]byte, 0, len(runes)-1)
	for _, r := range runes[1:] {
		if r > 0x7F {
			return nil, fmt.Errorf("%w: non-ascii data", ErrMalformedEnvelope)
		}
		out = append(out, byte(r))
	}
	return out, nil
}

// DecodeConfigSync extracts the tag id of a watchConfigSyncReq message: a
// big-endian uint16 right after the first character of data.
func DecodeConfigSync(data []byte) (int, error) {
	b, err := dataBytes(data)
	if err != nil {
		return 0, err
	}
	if len(b) != 2 {
		return 0, fmt.Errorf("%w: config sync data is %d bytes, want 2", ErrMalformedEnvelope, len(b))
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

// DecodeSensorException extracts the tag id and event code of a
// sensorException message.
func DecodeSensorException(data []byte) (tid int, code int, err error) {
	b, err := dataBytes(data)
	if err != nil {
		return 0, 0, err
	}
	if len(b) != 3 {
		return 0, 0, fmt.Errorf("%w: sensor data is %d bytes, want 3", ErrMalformedEnvelope, len(b))
	}
	return int(binary.BigEndian.Uint16(b[:2])), int(b[2]), nil
}
