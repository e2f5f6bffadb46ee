// Package backend talks to the persistence, feedback and knowledge-base
// services. Every call goes through the retrying gateway.
package backend

import (
	"context"
	"net/http"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/gateway"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

// DefaultTable is the table conversations and feedback live in.
const DefaultTable = "spaceship_bot_messages"

// DefaultIndex is the knowledge-base index URLs and documents belong to.
const DefaultIndex = "spaceship-docs"

// Gateway is the subset of gateway.Gateway the client needs.
type Gateway interface {
	Call(ctx context.Context, op gateway.Operation, out any) error
}

// Endpoints holds one URL per backend operation. Empty endpoints make the
// matching call fail with RequestRejected.
type Endpoints struct {
	LoadConversations string
	RateMessage       string
	AddComment        string
	AddURL            string
	DeleteURL         string
	AddDocument       string
	DeleteDocument    string
	ListBlocks        string
	CitationAnalytics string
}

// Client is the backend collaborator.
type Client struct {
	endpoints Endpoints
	gateway   Gateway
	table     string
	index     string
	limit     int
	logger    *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithTable overrides the message table name.
func WithTable(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.table = name
		}
	}
}

// WithIndex overrides the knowledge-base index.
func WithIndex(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.index = name
		}
	}
}

// WithLoadLimit overrides how many messages a conversation load requests.
func WithLoadLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limit = n
		}
	}
}

// New creates a backend client.
func New(endpoints Endpoints, gw Gateway, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		endpoints: endpoints,
		gateway:   gw,
		table:     DefaultTable,
		index:     DefaultIndex,
		limit:     500,
		logger:    logger.OrNop(log).Named("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) post(ctx context.Context, name, url string, payload, out any) error {
	return c.gateway.Call(ctx, gateway.Operation{
		Name:    name,
		Method:  http.MethodPost,
		URL:     url,
		Payload: payload,
	}, out)
}
