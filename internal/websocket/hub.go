package websocket

import (
	"context"
	"sync"
)

type hubOp int

const (
	opRegister hubOp = iota
	opUnregister
	opSubscribe
	opUnsubscribe
)

type request struct {
	op      hubOp
	client  *Client
	channel string
}

// Hub fans pub/sub messages out to the websocket clients watching each
// incident channel.
type Hub struct {
	mu sync.RWMutex

	clients map[string]*Client
	// channels maps a channel name to the clients subscribed to it.
	channels map[string]map[*Client]struct{}

	// requests keeps membership changes from one connection in order.
	requests chan request
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		channels: make(map[string]map[*Client]struct{}),
		requests: make(chan request, 512),
	}
}

// Run serializes membership changes until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.requests:
			switch req.op {
			case opRegister:
				h.addClient(req.client)
			case opUnregister:
				h.removeClient(req.client)
			case opSubscribe:
				h.subscribeToChannel(req.client, req.channel)
			case opUnsubscribe:
				h.unsubscribeFromChannel(req.client, req.channel)
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.requests <- request{op: opRegister, client: client}
}

func (h *Hub) Unregister(client *Client) {
	h.requests <- request{op: opUnregister, client: client}
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.requests <- request{op: opSubscribe, client: client, channel: channel}
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.requests <- request{op: opUnsubscribe, client: client, channel: channel}
}

// Broadcast queues payload on every client subscribed to channel. Slow
// clients drop messages rather than block the bridge.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	for c := range h.channels[channel] {
		c.SendMessage(payload)
	}
	h.mu.RUnlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, channel := range client.Channels() {
		h.detach(client, channel)
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
	client.subscribe(channel)
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(client, channel)
}

// detach requires h.mu held.
func (h *Hub) detach(client *Client, channel string) {
	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
	client.unsubscribe(channel)
}
