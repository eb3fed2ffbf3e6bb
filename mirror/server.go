package mirror

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// Server accepts upgrade requests for published paths and runs one session per connection.
//
// The server context is the process-wide cancellation source: every session context
// is derived from it, so `Close` promptly terminates every live session.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	registry *Registry
	settings *ServerSettings

	upgrader websocket.Upgrader
	limiter  *upgradeLimiter

	log LogFunction

	stateLock sync.Mutex
	sessions  map[Id]*Session
	// tracks running sessions for `Wait`
	sessionsWait sync.WaitGroup
}

func NewServerWithDefaults(ctx context.Context, registry *Registry) *Server {
	return NewServer(ctx, registry, DefaultServerSettings())
}

func NewServer(ctx context.Context, registry *Registry, settings *ServerSettings) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	server := &Server{
		ctx:      cancelCtx,
		cancel:   cancel,
		registry: registry,
		settings: settings,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.HandshakeTimeout,
			ReadBufferSize:   settings.ReadBufferSize,
			WriteBufferSize:  settings.WriteBufferSize,
			Subprotocols:     []string{settings.Subprotocol},
			CheckOrigin:      settings.CheckOrigin,
		},
		limiter:  newUpgradeLimiter(settings.UpgradeRatePerSecond, settings.UpgradeBurst, settings.UpgradeRateIdleTtl),
		log:      LogFn(LogLevelInfo, "server"),
		sessions: map[Id]*Session{},
	}
	return server
}

func (self *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)

	if _, ok := self.registry.Lookup(path); !ok {
		self.reject(w, http.StatusNotFound)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		self.reject(w, http.StatusUpgradeRequired)
		return
	}
	if !self.limiter.Allow(remoteHost(r), time.Now()) {
		self.log("rate limit %s %s", remoteHost(r), path)
		self.reject(w, http.StatusTooManyRequests)
		return
	}
	if 0 < len(self.settings.JwtSigningKey) {
		if err := authorizeUpgrade(r, self.settings.JwtSigningKey, path); err != nil {
			self.log("auth %s %s = %s", remoteHost(r), path, err)
			self.reject(w, http.StatusUnauthorized)
			return
		}
	}
	select {
	case <-self.ctx.Done():
		self.reject(w, http.StatusServiceUnavailable)
		return
	default:
	}

	// construct before the upgrade. a failure here creates no session
	root, err := self.registry.Construct(path)
	if err != nil {
		glog.Infof("[server]%s\n", err)
		sessionsClosed.WithLabelValues(CloseReasonConstruction).Inc()
		self.reject(w, http.StatusInternalServerError)
		return
	}

	conn, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		glog.Infof("[server]upgrade %s error = %s\n", path, err)
		return
	}
	if conn.Subprotocol() != self.settings.Subprotocol {
		// the client did not ask for the sub-protocol. continue, as browsers may omit it
		self.log("subprotocol %q on %s", conn.Subprotocol(), path)
	}

	session := NewSession(self.ctx, conn, root, self.settings.SessionSettings)
	if !self.addSession(session) {
		// closed between the check above and the upgrade
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutdown"),
			time.Now().Add(self.settings.SessionSettings.CloseTimeout),
		)
		conn.Close()
		return
	}
	self.log("session %s %s", session.SessionId(), path)
	self.runSession(session)
}

func (self *Server) reject(w http.ResponseWriter, status int) {
	recordUpgradeRejected(http.StatusText(status))
	http.Error(w, http.StatusText(status), status)
}

// tracks the session for `Wait`. false once the server is closed.
// `Close` cancels under the same lock, so no add runs concurrently with a `Wait` after `Close`
func (self *Server) addSession(session *Session) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.ctx.Err() != nil {
		return false
	}
	self.sessionsWait.Add(1)
	self.sessions[session.SessionId()] = session
	return true
}

// blocks until the session terminates. the session must have been added
func (self *Server) runSession(session *Session) {
	defer self.sessionsWait.Done()
	defer func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		delete(self.sessions, session.SessionId())
	}()

	if err := session.Run(); err != nil && !errors.Is(err, ErrPeerClosed) {
		glog.Infof("[server]session %s ended = %s\n", session.SessionId(), err)
	}
}

func (self *Server) SessionCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.sessions)
}

// ids of the live sessions, oldest first
func (self *Server) SessionIds() []Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	sessionIds := make([]Id, 0, len(self.sessions))
	for sessionId := range self.sessions {
		sessionIds = append(sessionIds, sessionId)
	}
	slices.SortFunc(sessionIds, func(a Id, b Id) int {
		if a.LessThan(b) {
			return -1
		} else if b.LessThan(a) {
			return 1
		}
		return 0
	})
	return sessionIds
}

func (self *Server) Registry() *Registry {
	return self.registry
}

func (self *Server) Ctx() context.Context {
	return self.ctx
}

// cancels the process-wide scope. every live session terminates without peer activity
func (self *Server) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.cancel()
}

// blocks until all sessions started by this server have terminated
func (self *Server) Wait() {
	self.sessionsWait.Wait()
}
