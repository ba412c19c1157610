// Package notify delivers best-effort status notifications over a local
// datagram socket. Delivery failures are swallowed, a notification must never
// fail a lifecycle operation.
package notify

import (
	"encoding/json"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	PriorityInfo    = 0
	PriorityWarning = 1
	PriorityError   = 2
)

type Notification struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

type Sink interface {
	Send(n Notification)
}

type datagramSink struct {
	socketPath string
	log        *logrus.Logger
}

// NewDatagramSink returns a Sink writing JSON datagrams to a local unixgram
// socket.
func NewDatagramSink(socketPath string, log *logrus.Logger) Sink {
	return &datagramSink{socketPath: socketPath, log: log}
}

func (s *datagramSink) Send(n Notification) {
	conn, err := net.DialTimeout("unixgram", s.socketPath, time.Second)
	if err != nil {
		s.log.Debugf("notification sink unreachable: %v", err)
		return
	}
	defer conn.Close()
	payload, err := json.Marshal(n)
	if err != nil {
		s.log.Debugf("could not encode notification: %v", err)
		return
	}
	if _, err := conn.Write(payload); err != nil {
		s.log.Debugf("could not send notification: %v", err)
	}
}

type noopSink struct{}

// NewNoopSink returns a Sink that discards everything.
func NewNoopSink() Sink { return noopSink{} }

func (noopSink) Send(Notification) {}
