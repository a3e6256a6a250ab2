// Package server coordinates client registration, live record delivery, and
// connection cleanup for the CipherChat WebSocket feed via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/cipherchat/internal/metrics"
	"github.com/Tyrowin/cipherchat/internal/relay"
)

// Hub manages all WebSocket client connections and delivers each published
// record to the clients subscribed to its channel. It maintains client
// registration/unregistration and ensures thread-safe operations through
// mutex protection.
type Hub struct {
	clients    map[*Client]bool
	deliver    chan relay.Record
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *logrus.Entry
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. The returned Hub is ready to manage WebSocket connections.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		deliver:    make(chan relay.Record, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger.WithField("component", "hub"),
	}
}

// Deliver queues rec for the clients of its channel. It blocks while the
// delivery queue is full and returns false once the hub is shut down.
func (h *Hub) Deliver(rec relay.Record) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.deliver <- rec:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Register adds a client; the hub launches its pump goroutines.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Context is cancelled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and record delivery. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Debug("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			metrics.SetLiveClients(clientCount)
			h.log.WithFields(logrus.Fields{
				"remote":  client.addr,
				"channel": client.channel,
				"clients": clientCount,
			}).Info("client registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				// Close the channel after releasing the lock
				close(client.send)
				metrics.SetLiveClients(clientCount)
				h.log.WithFields(logrus.Fields{
					"remote":  client.addr,
					"clients": clientCount,
				}).Info("client unregistered")
			} else {
				h.mutex.Unlock()
			}

		case rec := <-h.deliver:
			h.handleDelivery(rec)
		}
	}
}

// handleDelivery sends rec to every client subscribed to its channel.
func (h *Hub) handleDelivery(rec relay.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		h.log.WithError(err).WithField("record_id", rec.ID).Error("encoding live record")
		return
	}

	targets := h.channelSnapshot(rec.Channel)
	if len(targets) == 0 {
		return
	}

	var clientsToRemove []*Client
	delivered := 0
	for _, client := range targets {
		if h.safeSend(client, payload) {
			delivered++
			continue
		}
		clientsToRemove = append(clientsToRemove, client)
	}
	metrics.AddDelivered(delivered)
	h.log.WithFields(logrus.Fields{
		"channel":   rec.Channel,
		"record_id": rec.ID,
		"clients":   delivered,
	}).Debug("delivered live record")

	h.removeFailedClients(clientsToRemove)
}

// channelSnapshot returns a thread-safe snapshot of the clients of channel.
func (h *Hub) channelSnapshot(channel string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.channel == channel {
			clients = append(clients, client)
		}
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.log.WithField("remote", client.addr).Warn("client removed due to full send buffer")
		}
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()
	metrics.SetLiveClients(clientCount)

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.WithError(err).WithField("remote", client.addr).Warn("closing client connection")
			}
		}
	}

	h.log.Infof("closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()

	select {
	case <-h.done:
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
