package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres. Each value
// corresponds to a domain event the notification consumer materializes.
type NotificationType string

const (
	NotificationTypeOrderStatusChanged NotificationType = "order_status_changed"
	NotificationTypePaymentReceived    NotificationType = "payment_received"
	NotificationTypeRefundProcessed    NotificationType = "refund_processed"
	NotificationTypeDisputeRaised      NotificationType = "dispute_raised"
	NotificationTypeDisputeResolved    NotificationType = "dispute_resolved"
	NotificationTypeReturnRequested    NotificationType = "return_requested"
)

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	switch n {
	case NotificationTypeOrderStatusChanged,
		NotificationTypePaymentReceived,
		NotificationTypeRefundProcessed,
		NotificationTypeDisputeRaised,
		NotificationTypeDisputeResolved,
		NotificationTypeReturnRequested:
		return true
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	typ := NotificationType(value)
	if !typ.IsValid() {
		return "", fmt.Errorf("invalid notification type %q", value)
	}
	return typ, nil
}
