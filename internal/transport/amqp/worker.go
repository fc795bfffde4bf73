package amqp

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/logger"
	"github.com/wb-go/wbf/rabbitmq"
)

// WorkerConfig describes the queue a Worker consumes from.
type WorkerConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// Worker owns a dedicated consuming connection. The wbf client handles the
// producing side; consuming goes through a raw channel so that ack and
// requeue decisions stay with the handler result.
type Worker struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	handler rabbitmq.MessageHandler
	log     logger.Logger
}

func NewWorker(cfg WorkerConfig, handler rabbitmq.MessageHandler, log logger.Logger) (*Worker, error) {
	const op = "amqp.NewWorker"

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: channel: %w", op, err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: exchange declare: %w", op, err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: queue declare: %w", op, err)
	}

	// "#" takes every event type; subscription matching happens in the service.
	if err := ch.QueueBind(cfg.Queue, "#", cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: queue bind: %w", op, err)
	}

	return &Worker{
		conn:    conn,
		channel: ch,
		queue:   cfg.Queue,
		handler: handler,
		log:     log,
	}, nil
}

// Run consumes until the context is cancelled or the channel closes.
// Handler errors nack the message; a message is requeued at most once.
func (w *Worker) Run(ctx context.Context) error {
	const op = "amqp.Worker.Run"

	msgs, err := w.channel.Consume(w.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: consume: %w", op, err)
	}

	w.log.LogAttrs(ctx, logger.InfoLevel, "worker consuming",
		logger.String("op", op),
		logger.String("queue", w.queue),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("%s: delivery channel closed", op)
			}
			w.dispatch(ctx, msg)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, msg amqp091.Delivery) {
	const op = "amqp.Worker.dispatch"

	if err := w.handler(ctx, msg); err != nil {
		w.log.LogAttrs(ctx, logger.WarnLevel, "message handling failed",
			logger.String("op", op),
			logger.Any("redelivered", msg.Redelivered),
			logger.Any("error", err),
		)
		if nackErr := msg.Nack(false, !msg.Redelivered); nackErr != nil {
			w.log.LogAttrs(ctx, logger.ErrorLevel, "nack failed",
				logger.String("op", op),
				logger.Any("error", nackErr),
			)
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		w.log.LogAttrs(ctx, logger.ErrorLevel, "ack failed",
			logger.String("op", op),
			logger.Any("error", ackErr),
		)
	}
}

func (w *Worker) Close() {
	if w.channel != nil {
		w.channel.Close()
	}
	if w.conn != nil {
		w.conn.Close()
	}
}
