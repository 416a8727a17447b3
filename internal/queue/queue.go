package queue

type QueueEvent string

const (
	JobCreated    QueueEvent = "events.job.created"
	JobReenqueued QueueEvent = "events.job.reenqueued"
)

type Queue interface {
	PublishEvent(QueueEvent, string) error
	// SubscribeEvent delivers each message id to the handler; the message is
	// redelivered (at-least-once) when the handler returns an error.
	SubscribeEvent(QueueEvent, func(id string) error) error
	Shutdown()
}
