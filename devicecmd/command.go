// Package devicecmd builds the commands sent down to base stations and
// queues them in the store outbox for delivery.
package devicecmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intellikeeper/store"
)

// Command names understood by base station firmware.
const (
	SensorChoose = "sensorChoose"
	FindTag      = "find_tag"
	GetReaders   = "getReaders"
)

type Command struct {
	ID        string         `json:"id"`
	Name      string         `json:"command_name"`
	DeviceID  string         `json:"device_id"`
	Paras     map[string]any `json:"paras"`
	Timestamp time.Time      `json:"ts"`
}

func newCommand(name string, dev *store.Device, paras map[string]any) *Command {
	return &Command{
		ID:        uuid.NewString(),
		Name:      name,
		DeviceID:  dev.ExternalID,
		Paras:     paras,
		Timestamp: time.Now().UTC(),
	}
}

func (c *Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// SensorConfig builds the sensorChoose command that pushes a tag's sensor
// preferences. A tag that is inactive, or on an inactive device, gets both
// sensors off and mute on.
func SensorConfig(tag *store.Tag, dev *store.Device) *Command {
	paras := map[string]any{
		"accSensor":   false,
		"lightSensor": false,
		"tagId":       tag.TID,
		"muteMode":    true,
	}
	if tag.IsActive && dev.IsActive {
		paras["accSensor"] = tag.MoveDetectOn
		paras["lightSensor"] = tag.LightDetectOn
		paras["muteMode"] = tag.MuteModeOn
	}
	return newCommand(SensorChoose, dev, paras)
}

// Locate asks the device to make the tag signal its position.
func Locate(tag *store.Tag, dev *store.Device) *Command {
	return newCommand(FindTag, dev, map[string]any{"tid": tag.TID})
}

// ListReaders asks the device for its reader inventory.
func ListReaders(dev *store.Device) *Command {
	return newCommand(GetReaders, dev, map[string]any{})
}

// Queue writes commands to the outbox addressed to
// <topicPrefix>/<device external id>.
type Queue struct {
	db          *store.DB
	topicPrefix string
}

func NewQueue(db *store.DB, topicPrefix string) *Queue {
	return &Queue{db: db, topicPrefix: topicPrefix}
}

func (q *Queue) Topic(dev *store.Device) string {
	return fmt.Sprintf("%s/%s", q.topicPrefix, dev.ExternalID)
}

func (q *Queue) Enqueue(ctx context.Context, dev *store.Device, cmd *Command) (int64, error) {
	payload, err := cmd.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", cmd.Name, err)
	}
	id, err := q.db.EnqueueOutbox(ctx, q.Topic(dev), payload, cmd.Name, dev.ExternalID)
	if err != nil {
		return 0, fmt.Errorf("queue %s for %s: %w", cmd.Name, dev.ExternalID, err)
	}
	return id, nil
}
