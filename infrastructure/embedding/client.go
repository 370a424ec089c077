// Package embedding talks to the external embedding/clustering peer:
// vector upserts and deletes, full resets, UMAP layout computation, and
// peer-backed recommendation strategies.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/pkg/auth"
	apperrors "mindgraph-backend/pkg/errors"
	"mindgraph-backend/pkg/observability"
)

// peerTimeout bounds every peer call so a dead peer cannot pin the
// mutation pipeline.
const peerTimeout = 15 * time.Second

// Config configures the peer client.
type Config struct {
	BaseURL string
	// ServiceToken authenticates calls made outside a user request,
	// such as outbox replays. A caller credential captured on the
	// context takes precedence.
	ServiceToken string
	Timeout      time.Duration
}

// Client is the HTTP implementation of ports.EmbeddingPeer.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *observability.Metrics
}

var _ ports.EmbeddingPeer = (*Client)(nil)

// NewClient creates a peer client.
func NewClient(cfg Config, logger *zap.Logger, metrics *observability.Metrics) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("embedding peer base URL required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = peerTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding-peer",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Embedding peer circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
		metrics: metrics,
	}, nil
}

type embedNodeRequest struct {
	UserID string                `json:"user_id"`
	Nodes  []ports.NodeEmbedding `json:"nodes"`
}

// EmbedNodes upserts node vectors for the given user.
func (c *Client) EmbedNodes(ctx context.Context, userID string, nodes []ports.NodeEmbedding) error {
	if len(nodes) == 0 {
		return nil
	}
	return c.post(ctx, "embed/node", embedNodeRequest{UserID: userID, Nodes: nodes}, nil)
}

type embedEdgeRequest struct {
	UserID string                `json:"user_id"`
	Edges  []ports.EdgeEmbedding `json:"edges"`
}

// EmbedEdges upserts edge vectors for the given user.
func (c *Client) EmbedEdges(ctx context.Context, userID string, edges []ports.EdgeEmbedding) error {
	if len(edges) == 0 {
		return nil
	}
	return c.post(ctx, "embed/edge", embedEdgeRequest{UserID: userID, Edges: edges}, nil)
}

type deleteRequest struct {
	UserID string   `json:"user_id"`
	IDs    []string `json:"ids"`
}

// DeleteVectors removes vectors by id for the given user.
func (c *Client) DeleteVectors(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.post(ctx, "embed/delete", deleteRequest{UserID: userID, IDs: ids}, nil)
}

type resetRequest struct {
	UserID string `json:"user_id"`
}

// Reset drops all vectors for the given user.
func (c *Client) Reset(ctx context.Context, userID string) error {
	return c.post(ctx, "embed/reset", resetRequest{UserID: userID}, nil)
}

// ComputeLayout requests a UMAP layout for the user's node set. The
// returned coordinates are in normalized space.
func (c *Client) ComputeLayout(ctx context.Context, userID string) ([]ports.LayoutPoint, error) {
	var points []ports.LayoutPoint
	if err := c.post(ctx, "calculate-umap", resetRequest{UserID: userID}, &points); err != nil {
		return nil, err
	}
	return points, nil
}

type recommendRequest struct {
	UserID string                 `json:"user_id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Recommend invokes a peer-side recommendation strategy by method name.
func (c *Client) Recommend(ctx context.Context, userID, method string, params ports.RecommendParams) ([]ports.ScoredNode, error) {
	var scored []ports.ScoredNode
	path := "recommend/" + strings.ReplaceAll(method, "_", "-")
	if err := c.post(ctx, path, recommendRequest{UserID: userID, Params: params}, &scored); err != nil {
		return nil, err
	}
	return scored, nil
}

// post issues one JSON request through the circuit breaker. out may be
// nil when the response body is irrelevant; 2xx is the only success
// signal.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	start := time.Now()
	endpoint := strings.SplitN(path, "/", 2)[0]

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doPost(ctx, path, payload, out)
	})

	if c.metrics != nil {
		c.metrics.ObservePeerCall(endpoint, start, err)
	}
	if err != nil {
		return apperrors.NewExternalError("embedding-peer", err)
	}
	return nil
}

func (c *Client) doPost(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthorization(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Embedding peer call failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Embedding peer returned error status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(raw, 512)),
		)
		return fmt.Errorf("embedding peer %s: http %d: %s", path, resp.StatusCode, truncate(raw, 256))
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// setAuthorization forwards the caller's credential when present and
// falls back to the configured service token.
func (c *Client) setAuthorization(ctx context.Context, req *http.Request) {
	if header := auth.ForwardedAuthorization(ctx); header != "" {
		req.Header.Set("Authorization", header)
		return
	}
	if c.cfg.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceToken)
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
