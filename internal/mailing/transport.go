package mailing

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/pkg/logger"
)

// Message is a fully rendered e-mail ready for delivery.
type Message struct {
	To        string
	ToName    string
	FromEmail string
	FromName  string
	ReplyTo   string
	Subject   string
	HTML      string
	Text      string
	Tags      map[string]string
}

// Transport delivers rendered messages and returns the provider message id.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, msg *Message) (string, error)
}

// LogTransport only logs messages. It stands in for SES when no credentials
// are configured.
type LogTransport struct{}

func (LogTransport) Name() string { return "log" }

func (LogTransport) Deliver(ctx context.Context, msg *Message) (string, error) {
	id := "log-" + uuid.NewString()
	log.Printf("[Mailer] (log transport) to=%s subject=%q id=%s", logger.RedactEmail(msg.To), msg.Subject, id)
	return id, nil
}
