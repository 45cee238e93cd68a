// Package notify delivers one-time codes and account notices to users. It
// subscribes to the domain event bus so the core service stays unaware of
// delivery channels.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"access.org/internal/access"
	"access.org/internal/event"
	"access.org/internal/obs"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Language  string
}

// Sender delivers a rendered message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Registry maps channel names to senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry initialises an empty sender registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// Register adds or replaces the sender for a channel.
func (r *Registry) Register(channel string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = s
}

// Sender returns the sender registered for the channel.
func (r *Registry) Sender(channel string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[channel]
	return s, ok
}

// LogSender writes messages to the structured log instead of delivering
// them. Default for local development.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	obs.LogRequest(map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"type":      "notify",
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
		"body":      msg.Body,
	})
	return nil
}

// Subscribe consumes OTP events from the bus and delivers the code by email
// until the context ends. Internal OTPs are never delivered.
func Subscribe(ctx context.Context, bus *event.Bus, reg *Registry) {
	ch := bus.Subscribe(ctx, access.TopicOTPCreated)
	go func() {
		for evt := range ch {
			deliverOTP(ctx, reg, evt)
		}
	}()
}

func deliverOTP(ctx context.Context, reg *Registry, evt event.Event) {
	if internal, _ := evt.Payload["is_internal"].(bool); internal {
		return
	}
	email, _ := evt.Payload["email"].(string)
	number, _ := evt.Payload["number"].(string)
	value, _ := evt.Payload["value"].(string)
	otpType, _ := evt.Payload["type"].(string)
	language, _ := evt.Payload["language"].(string)
	if value == "" || (email == "" && number == "") {
		return
	}

	// Short PIN codes go over SMS when the user has a phone number and an
	// SMS sender is registered; everything else goes by email.
	recipient := email
	var sender Sender
	if otpType == access.OTPTypePIN && number != "" {
		if s, found := reg.Sender("sms"); found {
			sender = s
			recipient = number
		}
	}
	if sender == nil {
		if s, found := reg.Sender("email"); found {
			sender = s
		} else {
			sender = LogSender{}
		}
	}
	if recipient == "" {
		recipient = number
	}
	msg := renderOTP(otpType, recipient, value, language)
	if err := sender.Send(ctx, msg); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "otp delivery failed",
			"error": err.Error(),
		})
	}
}

func renderOTP(otpType, email, value, language string) Message {
	switch otpType {
	case access.OTPTypePIN:
		return Message{
			Recipient: email,
			Subject:   "Your one-time login code",
			Body:      fmt.Sprintf("Use this code to sign in: %s", value),
			Language:  language,
		}
	default:
		return Message{
			Recipient: email,
			Subject:   "Password reset",
			Body:      fmt.Sprintf("Use this token to reset your password: %s", value),
			Language:  language,
		}
	}
}
