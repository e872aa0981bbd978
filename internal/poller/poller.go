package poller

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/gwon-omega/server/internal/domain"
	"github.com/gwon-omega/server/internal/notify"
)

// CartClearer is the slice of the pipeline the poller needs: an
// authoritative, synchronous clear.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string, optimistic bool) (*domain.CartView, error)
}

// Poller empties a user's cart once their checkout has completed. It
// consumes the checkout outbox topic and pushes the resulting zero state to
// any live connections, so an order placed on one tab clears the cart on all
// of them.
type Poller struct {
	carts    CartClearer
	notifier *notify.Notifier
	reader   *kafka.Reader
}

func New(carts CartClearer, notifier *notify.Notifier, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "checkout-outbox",
		GroupID:  "cart-service-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, notifier: notifier, reader: reader}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.consumeOne(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		log.Printf("poller: close reader failed: %v", err)
	}
}

func (p *Poller) consumeOne(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("poller: read message failed: %v", err)
		}
		return
	}

	var payload map[string]interface{}
	if unmarshalErr := json.Unmarshal(m.Value, &payload); unmarshalErr != nil {
		log.Printf("poller: parse message failed: %v", unmarshalErr)
		return
	}
	userID, ok := payload["user_id"].(string)
	if !ok || userID == "" {
		log.Printf("poller: missing or invalid user_id")
		return
	}

	view, clearErr := p.carts.ClearCart(ctx, userID, false)
	if clearErr != nil {
		log.Printf("poller: clear cart for user %s failed: %v", userID, clearErr)
		return
	}

	p.notifier.Publish(notify.Event{
		Type:   notify.EventCartUpdated,
		UserID: userID,
		View:   view,
	})
}
