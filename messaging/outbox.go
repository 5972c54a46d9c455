package messaging

import (
	"context"
	"log"
	"time"

	"intellikeeper/metrics"
	"intellikeeper/store"
)

// Publisher delivers one outbox payload to its topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db         *store.DB
	pub        Publisher
	interval   time.Duration
	batchSize  int
	maxRetries int
	metrics    *metrics.Metrics
	stopChan   chan struct{}
	doneChan   chan struct{}
}

func NewOutboxDrainer(db *store.DB, pub Publisher, interval time.Duration, batchSize, maxRetries int, m *metrics.Metrics) *OutboxDrainer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxDrainer{
		db:         db,
		pub:        pub,
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		metrics:    m,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	go d.run()
}

// Stop ends the drain loop and waits for an in-flight drain to finish.
func (d *OutboxDrainer) Stop() {
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}
	<-d.doneChan
}

func (d *OutboxDrainer) run() {
	defer close(d.doneChan)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.DrainOnce(context.Background())
		}
	}
}

// DrainOnce publishes one batch of pending messages and returns how many were
// sent.
func (d *OutboxDrainer) DrainOnce(ctx context.Context) int {
	msgs, err := d.db.ListPendingOutbox(ctx, d.batchSize, d.maxRetries)
	if err != nil {
		log.Printf("outbox: list pending: %v", err)
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		if err := d.pub.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("outbox: publish %s to %s failed: %v", msg.MsgType, msg.Topic, err)
			retries, rerr := d.db.IncrementOutboxRetries(ctx, msg.ID)
			if rerr != nil {
				log.Printf("outbox: increment retries for %d: %v", msg.ID, rerr)
			}
			if retries >= d.maxRetries {
				log.Printf("outbox: giving up on message %d after %d attempts", msg.ID, retries)
				d.metrics.Outbox(metrics.OutboxDead)
			} else {
				d.metrics.Outbox(metrics.OutboxFailed)
			}
			continue
		}
		if err := d.db.AckOutbox(ctx, msg.ID, time.Now()); err != nil {
			log.Printf("outbox: ack %d: %v", msg.ID, err)
		}
		d.metrics.Outbox(metrics.OutboxSent)
		sent++
	}
	return sent
}
