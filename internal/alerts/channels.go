package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"keeper/internal/store"
)

// Channel names, also recorded on the alert row after delivery.
const (
	ChannelEmail     = "email"
	ChannelMessaging = "messaging"
	ChannelWebhook   = "webhook"
)

// Channel delivers one formatted message to one user. Configured reports
// whether the channel can reach this user at all; unconfigured channels
// are skipped without counting as failures.
type Channel interface {
	Name() string
	Configured(u store.User) bool
	Send(ctx context.Context, u store.User, msg Message) error
}

// EmailChannel sends plain-text mail over SMTP.
type EmailChannel struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) Configured(u store.User) bool {
	return c.Host != "" && u.Email != ""
}

func (c *EmailChannel) Send(ctx context.Context, u store.User, msg Message) error {
	from := c.From
	if from == "" {
		from = "alerts@keeper.app"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", u.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	var auth smtp.Auth
	if c.User != "" {
		auth = smtp.PlainAuth("", c.User, c.Pass, c.Host)
	}

	// smtp.SendMail has no context support; run it under a watchdog so a
	// stuck server cannot pin the dispatcher.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, from, []string{u.Email}, []byte(b.String()))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	}
}

// MessagingChannel posts a compact text message to a bot API on behalf of
// the user's messaging address.
type MessagingChannel struct {
	BotToken string
	APIBase  string // defaults to the Telegram bot API
	http     *resty.Client
}

// NewMessagingChannel builds the channel with a 10 s request timeout.
func NewMessagingChannel(botToken, apiBase string) *MessagingChannel {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &MessagingChannel{
		BotToken: botToken,
		APIBase:  apiBase,
		http:     resty.New().SetTimeout(10 * time.Second),
	}
}

func (c *MessagingChannel) Name() string { return ChannelMessaging }

func (c *MessagingChannel) Configured(u store.User) bool {
	return c.BotToken != "" && u.MessagingAddress != ""
}

func (c *MessagingChannel) Send(ctx context.Context, u store.User, msg Message) error {
	var out struct {
		OK bool `json:"ok"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    u.MessagingAddress,
			"text":       msg.Body,
			"parse_mode": "Markdown",
		}).
		SetResult(&out).
		Post(fmt.Sprintf("%s/bot%s/sendMessage", c.APIBase, c.BotToken))
	if err != nil {
		return fmt.Errorf("messaging send: %w", err)
	}
	if resp.StatusCode() != 200 || !out.OK {
		return fmt.Errorf("messaging send: status %d", resp.StatusCode())
	}
	return nil
}

// WebhookChannel posts the structured alert payload to the user's webhook.
type WebhookChannel struct {
	http *resty.Client
}

// NewWebhookChannel builds the channel with a 10 s request timeout.
func NewWebhookChannel() *WebhookChannel {
	return &WebhookChannel{http: resty.New().SetTimeout(10 * time.Second)}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

func (c *WebhookChannel) Configured(u store.User) bool {
	return u.WebhookURL != ""
}

func (c *WebhookChannel) Send(ctx context.Context, u store.User, msg Message) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg.Payload).
		Post(u.WebhookURL)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook send: status %d", resp.StatusCode())
	}
	return nil
}
