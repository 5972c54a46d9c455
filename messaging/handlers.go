package messaging

import (
	"context"
	"fmt"
	"time"

	"intellikeeper/cascade"
)

// Ingestor is the engine side of the three device topics.
type Ingestor interface {
	IngestProps(ctx context.Context, deviceExternalID string, eventTime time.Time, tagsHex string) error
	SyncTagConfig(ctx context.Context, tid int) error
	SensorException(ctx context.Context, tid int, kind cascade.Kind) error
}

// sensorKinds maps the event byte of a sensorException message.
var sensorKinds = map[int]cascade.Kind{
	0: cascade.Unmask,
	1: cascade.Moved,
}

func PropsHandler(ing Ingestor) HandlerFunc {
	return func(ctx context.Context, value []byte) error {
		r, err := DecodeProps(value)
		if err != nil {
			return err
		}
		return ing.IngestProps(ctx, r.DeviceID, r.EventTime, r.Tags)
	}
}

func ConfigSyncHandler(ing Ingestor) HandlerFunc {
	return func(ctx context.Context, value []byte) error {
		tid, err := DecodeConfigSync(value)
		if err != nil {
			return err
		}
		return ing.SyncTagConfig(ctx, tid)
	}
}

func SensorHandler(ing Ingestor) HandlerFunc {
	return func(ctx context.Context, value []byte) error {
		tid, code, err := DecodeSensorException(value)
		if err != nil {
			return err
		}
		kind, ok := sensorKinds[code]
		if !ok {
			return fmt.Errorf("%w: sensor event %d", ErrMalformedEnvelope, code)
		}
		return ing.SensorException(ctx, tid, kind)
	}
}
