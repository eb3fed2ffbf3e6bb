package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

// the subset of `*websocket.Conn` a session uses
type Channel interface {
	NextReader() (messageType int, r io.Reader, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// session state machine is:
// SessionStateAttaching
//
//	-> SessionStateActive
//	  -> SessionStateClosing
//	    -> SessionStateTerminated (terminal)
type SessionState int

const (
	SessionStateAttaching SessionState = iota
	SessionStateActive
	SessionStateClosing
	SessionStateTerminated
)

func (self SessionState) String() string {
	switch self {
	case SessionStateAttaching:
		return "Attaching"
	case SessionStateActive:
		return "Active"
	case SessionStateClosing:
		return "Closing"
	case SessionStateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("SessionState(%d)", int(self))
	}
}

// Session mirrors one graph to one client over one channel.
//
// The session context is derived from the process-wide context passed to `NewSession`,
// so cancelling either the session or the process ends the session.
// All termination paths converge on `terminate`, which runs once.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	sessionId Id
	channel   Channel
	root      Graph
	settings  *SessionSettings

	queue       *DependencyQueue
	transmitter *throttledTransmitter

	stateLock   sync.Mutex
	state       SessionState
	closeReason string
	closeErr    error

	unsubscribeOnce sync.Once
	unsubscribe     func()

	terminateOnce sync.Once
	terminated    chan struct{}
}

func NewSessionWithDefaults(ctx context.Context, channel Channel, root Graph) *Session {
	return NewSession(ctx, channel, root, DefaultSessionSettings())
}

func NewSession(ctx context.Context, channel Channel, root Graph, settings *SessionSettings) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		ctx:        cancelCtx,
		cancel:     cancel,
		sessionId:  NewId(),
		channel:    channel,
		root:       root,
		settings:   settings,
		state:      SessionStateAttaching,
		terminated: make(chan struct{}),
	}
	session.transmitter = newThrottledTransmitter(
		cancelCtx,
		settings.ThrottleInterval,
		func() []*Message {
			return session.queue.Drain()
		},
		session.send,
		session.sendError,
	)
	session.queue = NewDependencyQueue(
		root.Lookup,
		settings.MissingDependencyPolicy,
		session.transmitter.Arm,
	)
	return session
}

func (self *Session) SessionId() Id {
	return self.sessionId
}

func (self *Session) State() SessionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// closed when the session reaches `SessionStateTerminated`
func (self *Session) Done() <-chan struct{} {
	return self.terminated
}

// Run attaches to the graph and runs the read loop until the session ends.
// Returns the terminating cause, `ErrPeerClosed` when the peer closed,
// or nil when the session was cancelled or the process shut down.
func (self *Session) Run() error {
	sessionsActive.Inc()
	defer sessionsActive.Dec()
	defer self.terminate()

	glog.V(1).Infof("[s]%s attach %s\n", self.sessionId, self.root.Id())

	attached := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		// a session cancelled before it runs never attaches
		if self.state == SessionStateAttaching {
			self.state = SessionStateActive
			attached = true
		}
	}()
	if !attached {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		return self.closeErr
	}
	self.unsubscribe = self.root.Subscribe(self.queue.Enqueue)

	go self.transmitter.run()
	go func() {
		<-self.ctx.Done()
		self.close(CloseReasonShutdown, nil)
		self.terminate()
	}()

	// materializes the root before it is appended
	self.queue.Enqueue(Call(BodyId, "appendChild", Ref(self.root)))

	self.readLoop()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.closeErr
}

// Cancel ends the session. Safe to call from any goroutine
func (self *Session) Cancel() {
	self.close(CloseReasonCancel, nil)
}

// Active -> Closing. The first cause wins
func (self *Session) close(reason string, err error) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		switch self.state {
		case SessionStateClosing, SessionStateTerminated:
			return
		}
		self.state = SessionStateClosing
		self.closeReason = reason
		self.closeErr = err
	}()
	self.cancel()
}

// Closing -> Terminated. Effects run at most once
func (self *Session) terminate() {
	self.terminateOnce.Do(func() {
		self.close(CloseReasonShutdown, nil)
		self.unsubscribeGraph()
		self.queue.Close()

		var reason string
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			reason = self.closeReason
		}()

		// best effort. the peer may already be gone
		switch reason {
		case CloseReasonShutdown:
			self.writeClose(websocket.CloseGoingAway, "Server shutdown")
		case CloseReasonCancel:
			self.writeClose(websocket.CloseNormalClosure, "Session cancelled")
		}
		self.channel.Close()

		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.state = SessionStateTerminated
		}()
		sessionsClosed.WithLabelValues(reason).Inc()
		glog.V(1).Infof("[s]%s terminated (%s)\n", self.sessionId, reason)
		close(self.terminated)
	})
}

func (self *Session) unsubscribeGraph() {
	self.unsubscribeOnce.Do(func() {
		if self.unsubscribe != nil {
			self.unsubscribe()
		}
	})
}

func (self *Session) writeClose(code int, text string) {
	deadline := time.Now().Add(self.settings.CloseTimeout)
	if err := self.channel.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline); err != nil {
		glog.V(1).Infof("[s]%s close write error = %s\n", self.sessionId, err)
	}
}

// protocol violations close the channel with a reason and end the session. not retried
func (self *Session) violation(code int, reason string, err error) {
	glog.Infof("[sr]%s<- %s\n", self.sessionId, err)
	recordInbound(reason)
	self.writeClose(code, err.Error())
	self.close(reason, err)
}

func (self *Session) active() bool {
	if self.ctx.Err() != nil {
		return false
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state == SessionStateActive
}

// one sequential reader per session
func (self *Session) readLoop() {
	buffer := make([]byte, max(1, self.settings.ReceiveBufferSize))

	for self.active() {
		messageType, r, err := self.channel.NextReader()
		if err != nil {
			if self.ctx.Err() != nil {
				// the channel was released by cancellation
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				// the close was acknowledged by the channel close handler
				glog.V(1).Infof("[sr]%s<- close %d\n", self.sessionId, closeErr.Code)
				self.close(CloseReasonPeer, fmt.Errorf("%w: %w", ErrPeerClosed, closeErr))
			} else {
				glog.Infof("[sr]%s<- error = %s\n", self.sessionId, err)
				self.close(CloseReasonReadError, err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			size, err := readMessage(r, buffer)
			if errors.Is(err, ErrMessageTooBig) {
				self.violation(websocket.CloseMessageTooBig, CloseReasonTooBig, err)
				return
			} else if err != nil {
				if self.ctx.Err() == nil {
					glog.Infof("[sr]%s<- error = %s\n", self.sessionId, err)
					self.close(CloseReasonReadError, err)
				}
				return
			}
			self.dispatch(buffer[0:size])
		case websocket.BinaryMessage:
			self.violation(websocket.CloseUnsupportedData, CloseReasonInvalidType, ErrInvalidMessageType)
			return
		default:
			// control frames are handled by the channel
		}
	}
}

// reads one logical message into `buffer`.
// returns `ErrMessageTooBig` if the message does not fit
func readMessage(r io.Reader, buffer []byte) (int, error) {
	size := 0
	for {
		if size == len(buffer) {
			// the message fits only if the reader is exhausted
			var probe [1]byte
			n, err := r.Read(probe[:])
			if 0 < n {
				return size, ErrMessageTooBig
			}
			if err == io.EOF {
				return size, nil
			}
			if err != nil {
				return size, err
			}
			continue
		}
		n, err := r.Read(buffer[size:])
		size += n
		if err == io.EOF {
			return size, nil
		}
		if err != nil {
			return size, err
		}
	}
}

// decode failures drop the one message and the session continues
func (self *Session) dispatch(messageBytes []byte) {
	message, err := DecodeMessage(messageBytes)
	if err != nil {
		glog.Infof("[sr]%s<- %s\n", self.sessionId, err)
		recordInbound("decode_error")
		return
	}
	glog.V(2).Infof("[sr]%s<- %s\n", self.sessionId, message)

	result := "ok"
	HandleError(func() {
		self.root.Receive(message)
	}, func() {
		result = "receive_error"
	})
	recordInbound(result)
}

// runs on the transmitter goroutine only, so there is at most one data writer
func (self *Session) send(messages []*Message) error {
	batchBytes, err := EncodeBatch(messages)
	if err != nil {
		// an unencodable message is dropped like an undecodable inbound one. the rest are sent
		messages = EncodableMessages(messages, func(message *Message, err error) {
			glog.Infof("[st]%s-> drop %s = %s\n", self.sessionId, message, err)
			recordOutboundDropped()
		})
		if len(messages) == 0 {
			return nil
		}
		batchBytes, err = EncodeBatch(messages)
		if err != nil {
			return err
		}
	}
	if 0 < self.settings.WriteTimeout {
		self.channel.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	}
	if err := self.channel.WriteMessage(websocket.TextMessage, batchBytes); err != nil {
		return err
	}
	recordBatch(len(messages))
	glog.V(2).Infof("[st]%s-> %d messages (%d bytes)\n", self.sessionId, len(messages), len(batchBytes))
	return nil
}

// send failures are fatal for the session
func (self *Session) sendError(err error) {
	if self.ctx.Err() == nil {
		glog.Infof("[st]%s-> error = %s\n", self.sessionId, err)
	}
	self.unsubscribeGraph()
	self.close(CloseReasonSendError, fmt.Errorf("%w: %w", ErrTransmit, err))
}
