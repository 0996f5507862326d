package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"camviewer/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	broadcastQueue = 16
	controlQueue   = 64
	writeWait      = 5 * time.Second
)

// Message types sent to viewers.
const (
	TypeFrame = "frame"
	TypeError = "error"
	TypeState = "state"
)

// Message is the JSON envelope pushed to every viewer. Image is base64 encoded by encoding/json.
type Message struct {
	Type    string `json:"type"`
	Camera  string `json:"camera,omitempty"`
	Image   []byte `json:"image,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
}

type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	control    chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastQueue),
		control:    make(chan []byte, controlQueue),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then closes every client.
func (h *HubService) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		// Errors and state changes go out ahead of queued frames.
		select {
		case message := <-h.control:
			h.send(message)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", total)

		case message := <-h.control:
			h.send(message)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *HubService) send(message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			delete(h.clients, client)
			client.Close()
		}
	}
}

func (h *HubService) closeAll() {
	close(h.done)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Register adds a viewer. It returns false when the hub is no longer running.
func (h *HubService) Register(client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		client.Close()
		return false
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a raw message. When viewers fall behind the message is dropped.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

// BroadcastMessage encodes msg and queues it for every viewer. Frames may be dropped;
// other messages wait up to writeWait for room in their own queue.
func (h *HubService) BroadcastMessage(msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error encoding %s message: %v", msg.Type, err)
		return false
	}
	if msg.Type == TypeFrame {
		return h.Broadcast(payload)
	}

	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case h.control <- payload:
		return true
	case <-h.done:
		return false
	case <-timer.C:
		h.logger.Warning("Dropped %s message: hub is not keeping up", msg.Type)
		return false
	}
}

func (h *HubService) BroadcastFrame(camera string, image []byte) bool {
	return h.BroadcastMessage(Message{Type: TypeFrame, Camera: camera, Image: image})
}

func (h *HubService) BroadcastError(camera string, err error) bool {
	return h.BroadcastMessage(Message{Type: TypeError, Camera: camera, Message: err.Error()})
}

func (h *HubService) BroadcastState(camera, state string) bool {
	return h.BroadcastMessage(Message{Type: TypeState, Camera: camera, State: state})
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
