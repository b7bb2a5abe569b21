package enums

import (
	"fmt"
	"slices"
	"strings"
)

// NotificationType names an event handed to the notification dispatcher. The
// value doubles as the Kafka header and Pub/Sub attribute.
type NotificationType string

const (
	NotificationTypeOrderConfirmed NotificationType = "order_confirmed"
	NotificationTypeOrderCancelled NotificationType = "order_cancelled"
	NotificationTypeLowStock       NotificationType = "low_stock"
)

var notificationTypes = []NotificationType{
	NotificationTypeOrderConfirmed,
	NotificationTypeOrderCancelled,
	NotificationTypeLowStock,
}

func (n NotificationType) IsValid() bool {
	return slices.Contains(notificationTypes, n)
}

// ParseNotificationType is case-insensitive.
func ParseNotificationType(value string) (NotificationType, error) {
	n := NotificationType(strings.ToLower(strings.TrimSpace(value)))
	if !n.IsValid() {
		return "", fmt.Errorf("invalid notification type %q", value)
	}
	return n, nil
}
