package main

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Broadcast event payloads. Each carries its own type tag so clients can
// switch on a single field.

type playerJoinedEvent struct {
	Type       string   `json:"type"` // "player_joined"
	PlayerName string   `json:"player_name"`
	Players    []string `json:"players"`
}

type gameStartedEvent struct {
	Type         string   `json:"type"` // "game_started"
	Phase        Phase    `json:"phase"`
	CurrentRound int      `json:"current_round"`
	TopicChooser string   `json:"topic_chooser"`
	Topics       []string `json:"topics"`
}

type actionLockEvent struct {
	Type   string `json:"type"` // "action_locked" or "action_unlocked"
	Action Action `json:"action"`
}

type topicSelectedEvent struct {
	Type  string `json:"type"` // "topic_selected"
	Phase Phase  `json:"phase"`
	Topic string `json:"topic"`
}

type planSubmittedEvent struct {
	Type       string                   `json:"type"` // "plan_submitted"
	PlayerName string                   `json:"player_name"`
	AllReady   bool                     `json:"all_ready"`
	Players    map[string]PlayerSummary `json:"players"`
}

type roundResultsEvent struct {
	Type    string    `json:"type"` // "round_results"
	Phase   Phase     `json:"phase"`
	Results []Verdict `json:"results"`
}

type nextRoundEvent struct {
	Type         string                   `json:"type"` // "next_round"
	GameOver     bool                     `json:"game_over"`
	Phase        Phase                    `json:"phase"`
	NextRound    int                      `json:"next_round"`
	TopicChooser string                   `json:"topic_chooser"`
	Topics       []string                 `json:"topics"`
	Players      map[string]PlayerSummary `json:"players"`
}

type gameOverEvent struct {
	Type        string                `json:"type"` // "game_over"
	GameOver    bool                  `json:"game_over"`
	Phase       Phase                 `json:"phase"`
	Winner      string                `json:"winner"`
	FinalScores map[string]FinalScore `json:"final_scores"`
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan any
}

// Hub fans session events out to every subscribed client. Delivery is
// fire-and-forget: a subscriber whose send buffer is full gets dropped
// rather than slowing the game down.
type Hub struct {
	id string

	mu          sync.Mutex
	subscribers map[*subscriber]bool
}

func newHub(gameID string) *Hub {
	return &Hub{
		id:          gameID,
		subscribers: make(map[*subscriber]bool),
	}
}

func (h *Hub) subscribe(conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan any, 16),
	}

	h.mu.Lock()
	h.subscribers[sub] = true
	h.mu.Unlock()

	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

func (h *Hub) broadcast(event any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		select {
		case sub.send <- event:
		default:
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}
}

// closeAll disconnects every subscriber of this hub (used by the reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		close(sub.send)
		_ = sub.conn.Close()
		delete(h.subscribers, sub)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// readPump drains inbound frames until the client goes away. Game actions
// arrive over the REST surface; the websocket is downstream-only.
func (sub *subscriber) readPump(h *Hub) {
	defer func() {
		h.unsubscribe(sub)
		_ = sub.conn.Close()
	}()

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (sub *subscriber) writePump() {
	defer sub.conn.Close()

	for event := range sub.send {
		if err := sub.conn.WriteJSON(event); err != nil {
			return
		}
	}
}
