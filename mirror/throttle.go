package mirror

import (
	"context"
	"time"
)

// 30 fps max
const DefaultThrottleInterval = time.Second / 30

// drains a queue on a fixed cadence and emits one batch per send.
//
// Every arm persists until a check fires, so a message queued between checks is
// in the next batch. A disarmed transmitter holds no ticker.
type throttledTransmitter struct {
	ctx context.Context

	interval time.Duration
	drain    func() []*Message
	send     func(messages []*Message) error
	// called once with the first send error. the transmitter stops after a send error
	onSendError func(err error)

	// 1-buffered. a pending value means armed
	armed chan struct{}

	// only accessed from `run`
	lastTransmitTime time.Time
}

func newThrottledTransmitter(
	ctx context.Context,
	interval time.Duration,
	drain func() []*Message,
	send func(messages []*Message) error,
	onSendError func(err error),
) *throttledTransmitter {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	return &throttledTransmitter{
		ctx:         ctx,
		interval:    interval,
		drain:       drain,
		send:        send,
		onSendError: onSendError,
		armed:       make(chan struct{}, 1),
	}
}

// never blocks
func (self *throttledTransmitter) Arm() {
	select {
	case self.armed <- struct{}{}:
	default:
		// already armed
	}
}

func (self *throttledTransmitter) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-self.armed:
		}

		if !self.awaitCheck() {
			return
		}

		if err := self.transmit(); err != nil {
			if self.onSendError != nil {
				self.onSendError(err)
			}
			return
		}
	}
}

// waits for the first periodic check where at least `interval` has elapsed since the last transmit.
// returns false on cancel
func (self *throttledTransmitter) awaitCheck() bool {
	ticker := time.NewTicker(self.interval)
	defer ticker.Stop()
	for {
		select {
		case <-self.ctx.Done():
			return false
		case tickTime := <-ticker.C:
			if self.interval <= tickTime.Sub(self.lastTransmitTime) {
				self.lastTransmitTime = tickTime
				return true
			}
		}
	}
}

func (self *throttledTransmitter) transmit() error {
	messages := self.drain()
	if len(messages) == 0 {
		// no empty batches
		return nil
	}
	select {
	case <-self.ctx.Done():
		// teardown has started. nothing is sent after teardown
		return nil
	default:
	}
	return self.send(messages)
}
