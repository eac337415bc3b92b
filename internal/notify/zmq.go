// Package notify subscribes to node notifications over ZMQ and stops
// in-flight work for roots the node no longer needs work for.
package notify

import (
	"context"
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/log"
)

// Topics published by the node
const (
	// TopicConfirmation carries the raw 32-byte root of a confirmed block
	TopicConfirmation = "confirmation"
	// TopicConfirmationHex carries the root as 64 hex characters
	TopicConfirmationHex = "confirmationhex"
)

// recvTimeout bounds each receive so Listen notices a done context
const recvTimeout = 250 * time.Millisecond

// ZMQNotifier receives multipart topic/payload messages from a node
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQNotifier creates a new ZMQ notifier
func NewZMQNotifier(endpoint string, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	return &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq"),
	}, nil
}

// Subscribe subscribes to a specific topic
func (z *ZMQNotifier) Subscribe(topic string) error {
	if err := z.socket.SetSubscribe(topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	z.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the ZMQ endpoint
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", z.endpoint)
	return nil
}

// Listen delivers messages to handler until ctx is done. Handler errors are
// logged and do not stop the listener.
func (z *ZMQNotifier) Listen(ctx context.Context, handler func(topic string, data []byte) error) error {
	z.logger.Info("starting ZMQ listener")

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			if zmq.AsErrno(err) == zmq.ETERM {
				return fmt.Errorf("ZMQ context terminated: %w", err)
			}
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		data := msg[1]

		z.logger.Debug("received ZMQ message", "topic", topic, "size", len(data))

		if err := handler(topic, data); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close closes the ZMQ socket
func (z *ZMQNotifier) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}

// Canceller stops in-flight work for a root
type Canceller interface {
	CancelWork(root work.Root) int
}

// ConfirmationHandler cancels work for roots the node reports as confirmed
type ConfirmationHandler struct {
	canceller Canceller
	logger    *log.Logger
}

// NewConfirmationHandler creates a handler that cancels through c
func NewConfirmationHandler(c Canceller, logger *log.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		canceller: c,
		logger:    logger.WithComponent("confirmations"),
	}
}

// HandleMessage handles a ZMQ message
func (h *ConfirmationHandler) HandleMessage(topic string, data []byte) error {
	var (
		root work.Root
		err  error
	)

	switch topic {
	case TopicConfirmation:
		root, err = work.RootFromBytes(data)
	case TopicConfirmationHex:
		root, err = work.ParseRootHex(string(data))
	default:
		h.logger.Warn("unknown ZMQ topic", "topic", topic)
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid root on topic %s: %w", topic, err)
	}

	cancelled := h.canceller.CancelWork(root)
	h.logger.Debug("confirmation received", "root", root.String(), "cancelled", cancelled)
	return nil
}
