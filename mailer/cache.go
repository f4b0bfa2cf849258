package mailer

import (
	"sync"

	"dripline/models"
)

// Client is a company's sending setup: its sender identity and an SMTP transport.
type Client struct {
	Sender    models.Sender
	Transport Transport
}

// ClientCache keeps one Client per company so the sender lookup and password
// decryption happen once per company rather than once per email.
type ClientCache struct {
	mu      sync.RWMutex
	clients map[uint]*Client
}

func NewClientCache() *ClientCache {
	return &ClientCache{clients: make(map[uint]*Client)}
}

// GetOrCreate returns the cached client for companyID, building it with create
// on a miss. Errors from create are not cached.
func (c *ClientCache) GetOrCreate(companyID uint, create func() (*Client, error)) (*Client, error) {
	c.mu.RLock()
	client, ok := c.clients[companyID]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[companyID]; ok {
		return client, nil
	}

	client, err := create()
	if err != nil {
		return nil, err
	}
	c.clients[companyID] = client
	return client, nil
}

// Invalidate drops the company's client, e.g. after its sender changed or a send failed.
func (c *ClientCache) Invalidate(companyID uint) {
	c.mu.Lock()
	delete(c.clients, companyID)
	c.mu.Unlock()
}

func (c *ClientCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}
