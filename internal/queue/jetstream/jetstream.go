package jetstream

import (
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/internal/queue"
)

type JetStreamClient struct {
	connection *nats.Conn
	context    nats.JetStreamContext
}

func NewJetStreamClient(url string) (queue.Queue, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),            // infinite retries
		nats.ReconnectWait(2*time.Second), // backoff
		nats.Name("osprey"),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "EVENTS",
		Subjects: []string{"events.>"},
	})

	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, err
	}

	return &JetStreamClient{
		connection: nc,
		context:    js,
	}, nil
}

// durableName maps an event subject to its consumer name; each subject gets
// its own durable so the filter subjects never collide.
func durableName(event queue.QueueEvent) string {
	return "worker_" + strings.ReplaceAll(strings.TrimPrefix(string(event), "events."), ".", "_")
}

func (c *JetStreamClient) PublishEvent(event queue.QueueEvent, id string) error {
	_, err := c.context.Publish(string(event), []byte(id))
	return err
}

func (c *JetStreamClient) SubscribeEvent(event queue.QueueEvent, handler func(id string) error) error {
	durable := durableName(event)

	_, err := c.context.AddConsumer("EVENTS", &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: string(event),
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       60 * time.Second,
		MaxDeliver:    5, // stop redelivering after 5 attempts
		BackOff: []time.Duration{
			5 * time.Second,
			15 * time.Second,
			30 * time.Second,
		},
		DeliverPolicy: nats.DeliverNewPolicy,
	})
	if err != nil && !strings.Contains(err.Error(), "consumer name already in use") {
		return err
	}

	sub, err := c.context.PullSubscribe(string(event), durable, nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return err
	}

	go func() {
		for {
			msgs, err := sub.Fetch(1, nats.MaxWait(30*time.Second))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				if errors.Is(err, nats.ErrConnectionClosed) {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for _, msg := range msgs {
				id := string(msg.Data)
				if err := handler(id); err != nil {
					logger.Log.Error().Err(err).Str("id", id).Msg("handler failed, nacking")
					msg.Nak()
					continue
				}
				msg.Ack()
			}
		}
	}()
	return nil
}

func (c *JetStreamClient) Shutdown() {
	c.connection.Drain() // flush + stop new messages
	c.connection.Close()
}
