package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// NotificationService is the boundary to the out-of-process delivery
// workers (email/SMS/WhatsApp). It is only called after a ledger mutation
// has committed; a failed enqueue is logged and never propagated.
type NotificationService struct {
	redis *redis.Client
}

const notificationQueue = "notification_queue"

func NewNotificationService(redisClient *redis.Client) *NotificationService {
	return &NotificationService{redis: redisClient}
}

type notification struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id"`
	Target    string    `json:"target,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (n *NotificationService) NotifyReminder(userID, debtorPhone, message string) {
	n.enqueue(notification{Kind: "debtor_reminder", UserID: userID, Target: debtorPhone, Message: message})
}

func (n *NotificationService) NotifyTopUpResolved(userID, decision string) {
	n.enqueue(notification{Kind: "topup_resolved", UserID: userID, Message: decision})
}

func (n *NotificationService) NotifyTraderRegistered(userID, agentID string) {
	n.enqueue(notification{Kind: "trader_registered", UserID: userID, Target: agentID})
}

func (n *NotificationService) enqueue(msg notification) {
	msg.CreatedAt = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal %s notification: %v", msg.Kind, err)
		return
	}

	if n.redis == nil {
		log.Printf("[NOTIFY] Notification (no queue): %s", string(data))
		return
	}

	if err := n.redis.RPush(context.Background(), notificationQueue, data).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue %s notification: %v", msg.Kind, err)
	}
}
