package notify

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/mmdatafocus/drops_backend/config"
)

// StockOutEvent is published when available stock hits zero right after
// a confirmed sale. Downstream delivery (email/chat) subscribes to the
// topic; this service only publishes.
type StockOutEvent struct {
	EventId   string    `json:"event_id"`
	ProductId string    `json:"product_id"`
	ColorName string    `json:"color_name"`
	OrderId   string    `json:"order_id"`
	At        time.Time `json:"at"`
}

type PubSubNotifier struct {
	topic string
}

func NewPubSubNotifier() *PubSubNotifier {
	topic := strings.TrimSpace(os.Getenv("STOCK_ALERT_TOPIC"))
	if topic == "" {
		topic = "stock-alerts"
	}
	return &PubSubNotifier{topic: topic}
}

func (n *PubSubNotifier) NotifyStockOut(ctx context.Context, productId, colorName, orderId string) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}

	event := StockOutEvent{
		EventId:   uuid.NewString(),
		ProductId: productId,
		ColorName: colorName,
		OrderId:   orderId,
		At:        time.Now().UTC(),
	}
	data, err := json.Marshal(&event)
	if err != nil {
		return err
	}

	result := client.Topic(n.topic).Publish(ctx, &pubsub.Message{Data: data})
	_, err = result.Get(ctx)
	return err
}
