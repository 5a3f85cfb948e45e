package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueSpec describes a consumer queue. A named queue is durable and
// survives restarts; an unnamed one is declared server-named, exclusive
// and auto-deleted, for ephemeral interest only.
type QueueSpec struct {
	Name       string
	DeadLetter bool // route rejected messages to the dead-letter exchange
}

// declareTopology declares the shared exchanges. Declaration is
// idempotent: redeclaring with identical parameters is safe per broker
// semantics, so this runs on every (re)connect.
func (cm *ConnectionManager) declareTopology(ch Channel) error {
	if err := ch.ExchangeDeclare(cm.exchange, "topic", true, false, false, false, nil); err != nil {
		return &TopologyError{Component: "exchange", Name: cm.exchange, Err: err}
	}
	if cm.dlx != "" {
		if err := ch.ExchangeDeclare(cm.dlx, "direct", true, false, false, false, nil); err != nil {
			return &TopologyError{Component: "exchange", Name: cm.dlx, Err: err}
		}
	}
	return nil
}

// DeclareQueue declares the queue described by spec and returns the
// broker-assigned name. When dead-lettering is requested a companion
// "<name>.dlq" queue is declared and bound on the dead-letter exchange.
func DeclareQueue(ch Channel, spec QueueSpec, dlx string) (string, error) {
	durable := spec.Name != ""
	exclusive := !durable
	autoDelete := !durable

	var args amqp.Table
	if spec.DeadLetter && dlx != "" && durable {
		dlqName := spec.Name + ".dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return "", &TopologyError{Component: "queue", Name: dlqName, Err: err}
		}
		if err := ch.QueueBind(dlqName, spec.Name, dlx, false, nil); err != nil {
			return "", &TopologyError{Component: "binding", Name: dlqName, Err: err}
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    dlx,
			"x-dead-letter-routing-key": spec.Name,
		}
	}

	q, err := ch.QueueDeclare(spec.Name, durable, autoDelete, exclusive, false, args)
	if err != nil {
		return "", &TopologyError{Component: "queue", Name: spec.Name, Err: err}
	}
	return q.Name, nil
}

// BindQueue binds a queue to an exchange under a topic pattern.
func BindQueue(ch Channel, queue, exchange, pattern string) error {
	if err := ch.QueueBind(queue, pattern, exchange, false, nil); err != nil {
		return &TopologyError{Component: "binding", Name: queue, Err: err}
	}
	return nil
}
