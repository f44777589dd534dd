// Package sse streams worker events to dashboard clients.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds one write so a stale client cannot stall a publish.
const WriteTimeout = 2 * time.Second

// Message is the envelope sent to clients.
type Message struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Client is one connected stream.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// Broadcaster fans messages out to connected clients.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
	now     func() time.Time
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
		now:     time.Now,
	}
}

// AddClient registers w as a stream.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", client.ID).Int("totalClients", count).Msg("SSE client connected")
	return client, nil
}

// RemoveClient unregisters client and closes its Done channel.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	client.close()
	log.Debug().Str("clientId", client.ID).Int("totalClients", count).Msg("SSE client disconnected")
}

// Publish sends an event of the given type to every client.
func (b *Broadcaster) Publish(eventType string, data any) {
	msg := Message{Type: eventType, At: b.now(), Data: data}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Failed to marshal SSE message")
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	dead := make(chan *Client, len(clients))
	var wg sync.WaitGroup
	for _, c := range clients {
		select {
		case <-c.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if !b.write(c, frame) {
				dead <- c
			}
		}(c)
	}
	wg.Wait()
	close(dead)

	for c := range dead {
		b.RemoveClient(c)
	}
}

// write delivers frame to c, reporting false when c should be dropped.
func (b *Broadcaster) write(c *Client, frame []byte) bool {
	result := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if _, err := c.Writer.Write(frame); err != nil {
			result <- err
			return
		}
		c.Flusher.Flush()
		result <- nil
	}()

	select {
	case err := <-result:
		if err != nil {
			log.Debug().Str("clientId", c.ID).Err(err).Msg("SSE write failed, dropping client")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().Str("clientId", c.ID).Dur("timeout", WriteTimeout).Msg("SSE write timed out, dropping client")
		return false
	case <-c.Done:
		return true
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one event stream until the request ends.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, _ := json.Marshal(Message{Type: "connected", At: b.now(), Data: map[string]string{"clientId": client.ID}})
	client.writeMu.Lock()
	_, _ = fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
	client.Flusher.Flush()
	client.writeMu.Unlock()

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
