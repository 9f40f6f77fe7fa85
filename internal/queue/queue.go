package queue

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/sendfox/sendfox-backend/internal/service"
)

const dispatchQueue = "campaign_dispatch"

// DispatchJob is one async campaign dispatch request carried over RabbitMQ.
type DispatchJob struct {
	CampaignID int                 `json:"campaign_id"`
	Recipients []service.Recipient `json:"recipients"`
}

// Queue is what the API needs to hand dispatch work to the worker.
type Queue interface {
	PublishDispatchJob(job DispatchJob) error
	Close() error
}

// AMQPQueue is the RabbitMQ-backed implementation.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(
		dispatchQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPQueue{conn: conn, ch: ch}, nil
}

func (q *AMQPQueue) PublishDispatchJob(job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.Publish(
		"",
		dispatchQueue,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

func (q *AMQPQueue) Close() error {
	q.ch.Close()
	return q.conn.Close()
}

// Consume delivers dispatch jobs to handler until the channel closes. A
// handler error republishes the job with a bumped retry header, up to three
// redeliveries, then drops it.
func (q *AMQPQueue) Consume(handler func(DispatchJob) error) error {
	msgs, err := q.ch.Consume(
		dispatchQueue,
		"",
		false, // autoAck off for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	for d := range msgs {
		var job DispatchJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			log.WithError(err).Warn("invalid dispatch job, dropping")
			d.Ack(false)
			continue
		}

		if err := handler(job); err != nil {
			log.WithError(err).WithField("campaign_id", job.CampaignID).Error("dispatch job failed")
			var retryCount int32
			if v, ok := d.Headers["x-retry-count"]; ok {
				if n, ok := v.(int32); ok {
					retryCount = n
				}
			}
			if retryCount < 3 {
				// Republish with the bumped retry header; a plain nack
				// would loop without ever counting attempts.
				q.ch.Publish("", dispatchQueue, false, false, amqp.Publishing{
					ContentType: "application/json",
					Body:        d.Body,
					Headers:     amqp.Table{"x-retry-count": retryCount + 1},
				})
			}
		}
		d.Ack(false)
	}
	return nil
}

var _ Queue = (*AMQPQueue)(nil)
