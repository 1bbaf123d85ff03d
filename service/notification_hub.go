package services

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxStoredNotifications = 100
	wsWriteWait            = 10 * time.Second
	wsPongWait             = 60 * time.Second
	wsPingPeriod           = (wsPongWait * 9) / 10
)

// Notifier publishes fire-and-forget dashboard messages.
type Notifier interface {
	Notify(ctx context.Context, typ, title, message, link string)
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans notifications out to connected dashboards.
type Hub struct {
	mutex    sync.Mutex
	clients  map[*hubClient]bool
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*hubClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast sends payload to every client. Clients whose buffer is full are dropped.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Hub.Broadcast] Failed to marshal notification: %v", err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub.ServeWS] Upgrade failed: %v", err)
		return
	}
	client := &hubClient{conn: conn, send: make(chan []byte, 16)}

	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) unregister(client *hubClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// readPump discards inbound messages and unregisters on disconnect.
func (h *Hub) readPump(client *hubClient) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
	}()
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *hubClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// DashboardCollections are the store keys whose writes are relayed to dashboards.
var DashboardCollections = []string{
	"capa-workflows",
	"regulatory-updates",
	"compliance-alerts",
	"email-templates",
	"email-schedules",
	"email-recipients",
	"email-events",
	"milestones",
	"scheduled-tasks",
}

// StoreChange tells dashboards that a collection was rewritten and should be refetched.
type StoreChange struct {
	Type    string    `json:"type"`
	Key     string    `json:"key"`
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}

// RelayChanges subscribes to keys and broadcasts a StoreChange for every write
// until ctx is cancelled. It returns once the subscriptions are registered.
func (h *Hub) RelayChanges(ctx context.Context, s store.Store, keys ...string) {
	for _, key := range keys {
		ch, cancel := s.Subscribe(key)
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-ch:
					if !ok {
						return
					}
					h.Broadcast(StoreChange{Type: "sync", Key: e.Key, Version: e.Version, At: e.UpdatedAt})
				}
			}
		}()
	}
}

// NotificationService keeps the most recent notifications and pushes new ones to the hub.
type NotificationService struct {
	notifications *store.Collection[model.Notification]
	hub           *Hub
	now           func() time.Time
}

func NewNotificationService(s store.Store, hub *Hub) *NotificationService {
	return &NotificationService{
		notifications: store.NewCollection(s, "notifications", 1, func(n model.Notification) string { return n.ID }),
		hub:           hub,
		now:           time.Now,
	}
}

// Notify persists and broadcasts. Errors are logged, never returned.
func (s *NotificationService) Notify(ctx context.Context, typ, title, message, link string) {
	n := model.Notification{
		ID:      uuid.NewString(),
		Type:    typ,
		Title:   title,
		Message: message,
		Link:    link,
		At:      s.now().UTC(),
	}
	_, err := s.notifications.Replace(ctx, func(items []model.Notification) ([]model.Notification, error) {
		items = append(items, n)
		if len(items) > maxStoredNotifications {
			items = items[len(items)-maxStoredNotifications:]
		}
		return items, nil
	})
	if err != nil {
		log.Printf("[NotificationService.Notify] Error storing notification %q: %v", title, err)
	}
	if s.hub != nil {
		s.hub.Broadcast(n)
	}
}

// List returns notifications newest first.
func (s *NotificationService) List(ctx context.Context) ([]model.Notification, error) {
	items, err := s.notifications.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// MarkRead flags a notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (model.Notification, error) {
	return s.notifications.Mutate(ctx, id, func(n *model.Notification) error {
		n.Read = true
		return nil
	})
}
