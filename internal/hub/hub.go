package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/podium/internal/observability"
	"github.com/haasonsaas/podium/internal/ratelimit"
)

const (
	maxChatLen     = 500
	maxNicknameLen = 30

	// shutdownGrace bounds how long Shutdown waits for close frames to
	// flush before tearing connections down.
	shutdownGrace = 3 * time.Second
)

// Config holds the session parameters the hub enforces.
type Config struct {
	// PIN gates viewer joins. Empty disables the check.
	PIN string `yaml:"pin"`
	// MaxViewers caps connections counted as viewers. Zero or negative
	// means unlimited.
	MaxViewers int `yaml:"max_viewers"`
	// PresenterName labels the presenter's chat messages.
	PresenterName string `yaml:"presenter_name"`
}

// Hub owns all session state: the connection set, the viewer count, the
// live poll, chat sequencing, and retained draw strokes. A single mutex
// guards everything; handlers stage outbound frames and send after
// unlocking.
type Hub struct {
	cfg     Config
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	metrics *observability.Metrics

	upgrader websocket.Upgrader

	mu            sync.Mutex
	clients       map[*Client]struct{}
	viewerCount   int
	currentPoll   *pollState
	chatMessageID int64
	drawStrokes   []json.RawMessage
	closed        bool

	// onAuthorized runs after every successful join, outside the lock.
	// The pipeline uses it to resync document state to the new viewer.
	onAuthorized func(*Client)
}

// New builds a hub. A nil logger falls back to slog.Default; metrics may
// be nil.
func New(cfg Config, limiter *ratelimit.Limiter, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PresenterName == "" {
		cfg.PresenterName = "Presenter"
	}
	return &Hub{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With("component", "hub"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// SetConnectionAuthorized registers a callback invoked after each
// successful join, outside the hub lock. Must be set before ServeWS
// starts accepting connections.
func (h *Hub) SetConnectionAuthorized(fn func(*Client)) {
	h.onAuthorized = fn
}

// ServeWS upgrades the request and runs the connection's pumps. The
// connection stays unauthenticated until a valid join frame arrives.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(h, conn, isLoopback(r))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.closeWith(websocket.CloseGoingAway, "session ended")
		return
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.Connections.Inc()
	}
	h.mu.Unlock()

	go c.writePump()
	c.readPump()
}

// handleMessage dispatches one inbound frame. Frames other than join are
// ignored until the connection authenticates.
func (h *Hub) handleMessage(c *Client, env *inboundEnvelope) {
	if env.Type == TypeJoin {
		var data JoinData
		_ = json.Unmarshal(env.Data, &data)
		h.handleJoin(c, data)
		return
	}

	h.mu.Lock()
	authed := c.authenticated
	role := c.role
	h.mu.Unlock()
	if !authed {
		return
	}

	switch env.Type {
	case TypeJoinName:
		var data JoinNameData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		h.setNickname(c, data.Nickname)
	case TypeChat:
		var data ChatData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		h.handleChat(c, data.Text)
	case TypePollVote:
		var data PollVoteData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		h.vote(c, data)
	case TypePollStart:
		if role != RolePresenter && role != RolePresenterPanel {
			return
		}
		var data PollStartData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		h.StartPoll(data.Question, data.OptionCount, data.PollID, data.Options)
	case TypePollEnd:
		if role != RolePresenter && role != RolePresenterPanel {
			return
		}
		h.EndPoll()
	case TypeViewportSync:
		if role != RolePresenter {
			return
		}
		h.Broadcast(TypeViewportSync, env.Data)
	case TypeDrawStroke:
		if role != RolePresenter {
			return
		}
		h.addStroke(env.Data)
	case TypeDrawClear:
		if role != RolePresenter {
			return
		}
		h.clearStrokes()
	default:
		h.logger.Debug("unknown message type", "type", env.Type, "client", c.id)
	}
}

// handleJoin validates the PIN and capacity, classifies the connection,
// and replies with join:result. Failed joins get a close frame with a
// distinguishing code.
func (h *Hub) handleJoin(c *Client, data JoinData) {
	role := RoleViewer
	switch data.Role {
	case RoleHintPresenter:
		role = RolePresenter
	case RoleHintPresenterPanel:
		role = RolePresenterPanel
	case RoleHintChatOnly:
		role = RoleChatOnly
	}

	h.mu.Lock()
	if c.authenticated {
		h.mu.Unlock()
		return
	}

	// Presenter roles require a loopback connection; a remote asking for
	// one is demoted to viewer.
	if (role == RolePresenter || role == RolePresenterPanel) && !c.isLocal {
		role = RoleViewer
	}

	if role == RoleViewer || role == RoleChatOnly {
		if h.cfg.PIN != "" && data.PIN != h.cfg.PIN {
			h.mu.Unlock()
			h.sendTo(c, TypeJoinResult, JoinResult{Success: false, Error: "Invalid PIN"})
			time.AfterFunc(100*time.Millisecond, func() {
				c.closeWith(CloseInvalidPIN, "Invalid PIN")
			})
			return
		}
	}

	countsAsViewer := role == RoleViewer
	if countsAsViewer && h.cfg.MaxViewers > 0 && h.viewerCount >= h.cfg.MaxViewers {
		h.mu.Unlock()
		h.sendTo(c, TypeJoinResult, JoinResult{Success: false, Error: "Session is full"})
		time.AfterFunc(100*time.Millisecond, func() {
			c.closeWith(CloseSessionFull, "Session is full")
		})
		return
	}

	c.authenticated = true
	c.role = role
	if countsAsViewer {
		c.countedAsViewer = true
		h.viewerCount++
	}
	count := h.viewerCount
	pollSnap := h.pollSnapshotLocked()
	strokes := append([]json.RawMessage(nil), h.drawStrokes...)
	h.mu.Unlock()

	if h.metrics != nil && countsAsViewer {
		h.metrics.Viewers.Inc()
	}

	h.sendTo(c, TypeJoinResult, JoinResult{Success: true})
	if countsAsViewer {
		h.Broadcast(TypeViewersCount, ViewersCount{Count: count})
	} else {
		h.sendTo(c, TypeViewersCount, ViewersCount{Count: count})
	}
	if pollSnap != nil {
		h.sendTo(c, TypePollStart, PollStartData{
			PollID:      pollSnap.PollID,
			Question:    pollSnap.Question,
			OptionCount: pollSnap.OptionCount,
			Options:     pollSnap.Options,
		})
		h.sendTo(c, TypePollResults, PollResults{
			PollID:      pollSnap.PollID,
			Votes:       pollSnap.Votes,
			TotalVoters: pollSnap.TotalVoters,
			Options:     pollSnap.Options,
		})
	}
	if len(strokes) > 0 {
		h.sendTo(c, TypeDrawFull, DrawFull{Strokes: strokes})
	}

	h.logger.Info("client joined", "client", c.id, "role", role.String(), "viewers", count)

	if h.onAuthorized != nil {
		h.onAuthorized(c)
	}
}

func (h *Hub) setNickname(c *Client, nickname string) {
	nickname = strings.TrimSpace(nickname)
	if len(nickname) > maxNicknameLen {
		nickname = nickname[:maxNicknameLen]
	}
	h.mu.Lock()
	c.nickname = nickname
	h.mu.Unlock()
}

// handleChat validates, rate-limits, and broadcasts one chat message. The
// presenter is exempt from rate limiting and is labeled with the
// configured presenter name.
func (h *Hub) handleChat(c *Client, text string) {
	h.mu.Lock()
	role := c.role
	nickname := c.nickname
	h.mu.Unlock()

	isPresenter := role == RolePresenter || role == RolePresenterPanel
	if isPresenter {
		nickname = h.cfg.PresenterName
	} else if nickname == "" {
		h.sendTo(c, TypeChatError, ChatError{Error: "Please set your name first."})
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(text) > maxChatLen {
		text = text[:maxChatLen]
	}

	if !isPresenter && h.limiter != nil {
		if reason := h.limiter.Check(c.id); reason != ratelimit.OK {
			if h.metrics != nil {
				h.metrics.RateLimited.WithLabelValues(reason.String()).Inc()
			}
			h.sendTo(c, TypeChatError, ChatError{Error: reason.Message()})
			return
		}
	}

	h.mu.Lock()
	h.chatMessageID++
	id := h.chatMessageID
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ChatMessages.Inc()
	}
	h.Broadcast(TypeChatBroadcast, ChatBroadcast{
		ID:          id,
		Nickname:    nickname,
		Text:        text,
		Timestamp:   time.Now().UnixMilli(),
		IsPresenter: isPresenter,
	})
}

func (h *Hub) addStroke(raw json.RawMessage) {
	stroke := append(json.RawMessage(nil), raw...)
	h.mu.Lock()
	h.drawStrokes = append(h.drawStrokes, stroke)
	h.mu.Unlock()
	h.Broadcast(TypeDrawStroke, raw)
}

func (h *Hub) clearStrokes() {
	h.mu.Lock()
	h.drawStrokes = nil
	h.mu.Unlock()
	h.Broadcast(TypeDrawClear, struct{}{})
}

// ClearStrokes drops retained draw strokes and tells viewers to clear.
// The pipeline calls this when the presented document changes.
func (h *Hub) ClearStrokes() {
	h.clearStrokes()
}

// dropClient removes a connection and settles its share of session state.
// The countedAsViewer guard makes the viewer decrement exactly-once no
// matter how many paths race to clean up the same connection.
func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	wasViewer := c.countedAsViewer
	if wasViewer {
		c.countedAsViewer = false
		h.viewerCount--
	}
	count := h.viewerCount
	h.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()

	if h.limiter != nil {
		h.limiter.Forget(c.id)
	}
	if h.metrics != nil {
		h.metrics.Connections.Dec()
		if wasViewer {
			h.metrics.Viewers.Dec()
		}
	}
	if wasViewer {
		h.Broadcast(TypeViewersCount, ViewersCount{Count: count})
	}
	h.logger.Debug("client left", "client", c.id, "viewers", count)
}

// ViewerCount returns the number of connections counted as viewers.
func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.viewerCount
}

// Broadcast marshals one frame and enqueues it to every authenticated
// connection. Slow consumers drop frames rather than stall the rest.
func (h *Hub) Broadcast(msgType string, data any) {
	payload, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("broadcast marshal failed", "type", msgType, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.authenticated {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
	if h.metrics != nil {
		h.metrics.Broadcasts.WithLabelValues(msgType).Inc()
	}
}

// SendTo marshals one frame and enqueues it to a single connection.
func (h *Hub) SendTo(c *Client, msgType string, data any) {
	h.sendTo(c, msgType, data)
}

func (h *Hub) sendTo(c *Client, msgType string, data any) {
	payload, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("send marshal failed", "type", msgType, "error", err)
		return
	}
	c.enqueue(payload)
}

// Shutdown broadcasts session:end, gives connections a bounded grace
// period to flush, then force-closes whatever remains. Safe to call once.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.Broadcast(TypeSessionEnd, struct{}{})

	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		remaining := len(h.clients)
		h.mu.Unlock()
		if remaining == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	h.ForceStop()
}

// ForceStop synchronously closes every remaining connection and clears
// session state. Used for emergency teardown and as Shutdown's backstop.
func (h *Hub) ForceStop() {
	h.mu.Lock()
	h.closed = true
	remaining := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		remaining = append(remaining, c)
	}
	h.mu.Unlock()

	for _, c := range remaining {
		c.closeWith(websocket.CloseGoingAway, "session ended")
	}
	for _, c := range remaining {
		h.dropClient(c)
	}

	h.mu.Lock()
	h.currentPoll = nil
	h.drawStrokes = nil
	h.mu.Unlock()

	if h.limiter != nil {
		h.limiter.Reset()
	}
	h.logger.Info("hub stopped")
}

// Reset returns the hub to its initial empty state so a new session can
// start without rebuilding it.
func (h *Hub) Reset() {
	h.ForceStop()
	h.mu.Lock()
	h.closed = false
	h.viewerCount = 0
	h.chatMessageID = 0
	h.mu.Unlock()
}
