package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const notificationQueue = "notification_queue"

// Notification is the payload handed to the external delivery worker.
type Notification struct {
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationService queues user notifications on Redis. Delivery is an
// external concern; enqueue failures are logged and never escalated, since
// notifications are not part of the correctness contract.
type NotificationService struct {
	redis *redis.Client
}

func NewNotificationService(rdb *redis.Client) *NotificationService {
	return &NotificationService{redis: rdb}
}

// Notify pushes one notification onto the queue, best effort.
func (s *NotificationService) Notify(ctx context.Context, n Notification) {
	if s.redis == nil {
		log.Printf("[NOTIFY] Redis unavailable, dropping notification for %s: %s", n.UserID, n.Title)
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	data, err := json.Marshal(n)
	if err != nil {
		log.Printf("[NOTIFY] Failed to encode notification for %s: %v", n.UserID, err)
		return
	}
	if err := s.redis.RPush(ctx, notificationQueue, data).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue notification for %s: %v", n.UserID, err)
	}
}

// NotifyAll fans a notification out to several holders.
func (s *NotificationService) NotifyAll(ctx context.Context, userIDs []string, title, message, notifType string) {
	for _, id := range userIDs {
		s.Notify(ctx, Notification{UserID: id, Title: title, Message: message, Type: notifType})
	}
}
