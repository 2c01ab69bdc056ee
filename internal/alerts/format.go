package alerts

import (
	"fmt"
	"strings"

	"keeper/internal/store"
)

// Message is one deliverable notification in every channel's shape: the
// subject/body pair for mail and messaging, the structured payload for
// webhooks.
type Message struct {
	Subject string
	Body    string
	Payload map[string]any
}

// FormatAlert renders a price alert for a channel.
func FormatAlert(ac store.AlertContext, channel string) Message {
	name := ac.Watch.Title
	if name == "" {
		name = ac.Watch.ASIN
	}
	current := ac.Alert.TriggeredPrice
	target := ac.Alert.TargetPrice
	savings := target - current
	if savings < 0 {
		savings = 0
	}
	url := ac.Watch.Domain.ProductURL(ac.Watch.ASIN)

	switch channel {
	case ChannelMessaging:
		return Message{
			Subject: "Price Drop Alert!",
			Body: fmt.Sprintf(
				"*Price Drop Detected!*\n\n*%s*\n%.2f€ < %.2f€\nSavings: %.2f€\n\n[Buy on Amazon](%s)",
				name, current, target, savings, url),
		}
	case ChannelWebhook:
		return Message{
			Subject: "price_alert",
			Payload: map[string]any{
				"event":           "price_alert",
				"asin":            ac.Watch.ASIN,
				"product_name":    name,
				"current_price":   current,
				"target_price":    target,
				"savings":         savings,
				"url":             url,
				"alert_id":        ac.Alert.ID.String(),
				"discount_percent": ac.Alert.DiscountPercent,
			},
		}
	default:
		return Message{
			Subject: fmt.Sprintf("Price Drop Alert: %s", name),
			Body: fmt.Sprintf(`Hi,

Great news! The product you're watching has dropped in price!

Product: %s
Current Price: %.2f€
Your Target: %.2f€
Savings: %.2f€

Buy now: %s

Happy shopping!
Keeper Team
`, name, current, target, savings, url),
		}
	}
}

// FormatDigest renders one summary message for alerts held back by the
// per-user rate cap.
func FormatDigest(alerts []store.AlertContext, channel string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%d price alerts in the last hour:\n\n", len(alerts))
	for i, ac := range alerts {
		name := ac.Watch.Title
		if name == "" {
			name = ac.Watch.ASIN
		}
		fmt.Fprintf(&b, "%d. %s — %.2f€ (target %.2f€)\n   %s\n",
			i+1, name, ac.Alert.TriggeredPrice, ac.Alert.TargetPrice,
			ac.Watch.Domain.ProductURL(ac.Watch.ASIN))
	}

	msg := Message{
		Subject: fmt.Sprintf("Price Alert Digest (%d alerts)", len(alerts)),
		Body:    b.String(),
	}
	if channel == ChannelWebhook {
		items := make([]map[string]any, 0, len(alerts))
		for _, ac := range alerts {
			items = append(items, map[string]any{
				"asin":          ac.Watch.ASIN,
				"current_price": ac.Alert.TriggeredPrice,
				"target_price":  ac.Alert.TargetPrice,
			})
		}
		msg.Payload = map[string]any{"event": "price_alert_digest", "alerts": items}
	}
	return msg
}
