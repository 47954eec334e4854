package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"github.com/MRamiBalles/needsim/internal/platform/metrics"
	"github.com/MRamiBalles/needsim/internal/platform/optimization"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *logger.Logger
	collector  *metrics.Collector
	tuning     *optimization.Config
	sim        Simulation
	eventLog   *events.EventLog
	upgrader   websocket.Upgrader
}

// NewHub initializes a new WebSocket Hub.
func NewHub(sim Simulation, eventLog *events.EventLog, log *logger.Logger, tuning *optimization.Config, collector *metrics.Collector) *Hub {
	if tuning == nil {
		tuning = optimization.DefaultConfig()
	}
	if collector == nil {
		collector = metrics.Get()
	}
	return &Hub{
		broadcast:  make(chan []byte, tuning.BroadcastChannelBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     log,
		collector:  collector,
		tuning:     tuning,
		sim:        sim,
		eventLog:   eventLog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow cross-origin requests for the dashboard dev server
			},
		},
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub shutting down")
			return nil
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.collector.RecordWSConnection(1)
			h.sendInitialState(client)
			h.logger.Info("New WebSocket client connected", zap.String("client_id", client.id))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.collector.RecordWSConnection(-1)
				h.logger.Info("WebSocket client disconnected", zap.String("client_id", client.id))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.collector.RecordWSMessage(false)
				default:
					// Slow consumer; drop it rather than stall every other client.
					close(client.send)
					delete(h.clients, client)
					h.collector.RecordWSConnection(-1)
					h.collector.RecordWSError()
					h.logger.Warn("Dropped slow WebSocket client", zap.String("client_id", client.id))
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) sendInitialState(client *Client) {
	payload, err := encode(MsgInitialState, h.sim.TickNumber(), h.sim.Snapshots())
	if err != nil {
		h.logger.Error("Failed to serialize initial state", zap.Error(err))
		return
	}
	select {
	case client.send <- payload:
		h.collector.RecordWSMessage(false)
	default:
	}
}

// enqueue hands a message to the broadcast loop without ever blocking the caller.
func (h *Hub) enqueue(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.collector.RecordWSError()
		h.logger.Warn("Broadcast queue full, message dropped")
	}
}

// BroadcastState pushes post-tick snapshots. It matches engine.TickObserver.
func (h *Hub) BroadcastState(tick int64, snapshots []character.Snapshot) {
	payload, err := encode(MsgStateUpdate, tick, snapshots)
	if err != nil {
		h.logger.Error("Failed to serialize state update", zap.Error(err))
		return
	}
	h.enqueue(payload)
}

// BroadcastEvent takes an Event, serializes it to JSON, and sends it to all connected clients.
func (h *Hub) BroadcastEvent(event events.Event) {
	payload, err := encode(MsgEvent, event.Tick, event)
	if err != nil {
		h.logger.Error("Failed to serialize event for WebSocket broadcast", zap.Error(err))
		return
	}
	h.enqueue(payload)
}

// StartEventPoller polls the EventLog and pushes new events to the Hub.
// This allows the Hub to run independently from the engine while picking up the same events.
func (h *Hub) StartEventPoller(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	pollInterval := time.NewTicker(interval)
	defer pollInterval.Stop()

	lastSeq := h.eventLog.LastSeq()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollInterval.C:
			for _, event := range h.eventLog.Since(lastSeq) {
				lastSeq = event.Seq
				if broadcastable(event) {
					h.BroadcastEvent(event)
				}
			}
		}
	}
}

// ServeWs handles websocket requests from the peer.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= h.tuning.MaxClients {
		h.collector.RecordWSRejected()
		h.logger.Warn("Rejecting WebSocket client, server full", zap.Int("max_clients", h.tuning.MaxClients))
		http.Error(w, "Too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.collector.RecordWSError()
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := NewClient(h, conn)
	client.Register()

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.WritePump()
	go client.ReadPump()
}
