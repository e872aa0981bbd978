package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"
)

// KafkaRelay forwards every notifier event to a shared topic so that
// instances behind a load balancer can serve each other's push connections.
// Messages are keyed by user id: a partitioned topic then preserves per-user
// ordering, which is all this pipeline guarantees anyway.
type KafkaRelay struct {
	notifier *Notifier
	writer   *kafka.Writer
}

func NewKafkaRelay(notifier *Notifier, brokers ...string) *KafkaRelay {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "cart-events",
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaRelay{notifier: notifier, writer: w}
}

func (r *KafkaRelay) Run(ctx context.Context) {
	events, cancel := r.notifier.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("relay: marshal event failed: %v", err)
				continue
			}
			writeErr := r.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(ev.UserID),
				Value: payload,
			})
			if writeErr != nil {
				log.Printf("relay: publish %s for user %s failed: %v", ev.Type, ev.UserID, writeErr)
			}
		}
	}
}

func (r *KafkaRelay) Close() {
	if err := r.writer.Close(); err != nil {
		log.Printf("relay: close writer failed: %v", err)
	}
}
