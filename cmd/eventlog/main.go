// Command eventlog writes every transaction change event published by the
// server to the log, giving an audit trail of who changed what.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"ledger/internal/config"
	"ledger/internal/events"
	"ledger/internal/logging"
)

func main() {
	queue := flag.String("queue", "ledger.audit", "Queue to consume from")
	pattern := flag.String("pattern", "transaction.*", "Routing key pattern to bind")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.AMQP.URL == "" {
		logrus.Fatal("AMQP_URL is not set")
	}

	out, closeLog := logging.Output(os.Stdout, logging.FileOptions(cfg.LogFile))
	defer closeLog()

	log, err := logging.New(cfg.LogLevel, cfg.LogJSON, out)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry := log.WithField(logging.FieldComponent, "eventlog")
	handle := func(_ context.Context, e events.Event) error {
		return logEvent(entry, e)
	}

	if err := events.Consume(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, *queue, *pattern, entry, handle); err != nil {
		entry.WithError(err).Fatal("Consumer stopped")
	}
}

var errUnknownEvent = errors.New("unknown event type")

func logEvent(log logrus.FieldLogger, e events.Event) error {
	switch e.Type {
	case events.TransactionCreated, events.TransactionUpdated, events.TransactionDeleted:
	default:
		return errUnknownEvent
	}

	fields := logrus.Fields{
		"event":          e.Type,
		"transaction_id": e.TransactionID,
		"owner_id":       e.OwnerID,
		"actor_id":       e.ActorID,
		"occurred_at":    e.OccurredAt,
	}
	if t := e.Transaction; t != nil {
		fields["amount"] = t.Amount.String()
		fields["category"] = t.Category
		fields["date"] = t.DateString()
	}
	log.WithFields(fields).Info("Transaction changed")
	return nil
}
