// Package clientsites caches the client configuration registry: per-client
// enrichment entitlements, webhook settings and redirect URLs.
package clientsites

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	httputil "github.com/sitebridge/server/pkg/infrastructure/http"
	"github.com/sitebridge/server/pkg/types"
)

const defaultRefreshInterval = 5 * time.Minute

// Registry is a refreshing in-memory cache of client configurations. Reads
// never block on the network: a lookup against a registry that has not yet
// loaded reports not-ready and the caller decides how to degrade.
type Registry struct {
	url      string
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration

	mu      sync.RWMutex
	configs map[string]types.ClientConfig
	loaded  bool
}

// NewRegistry builds a registry for the given endpoint. When client
// credentials are configured the fetch is authenticated with an OAuth2
// client-credentials token; otherwise the request goes out bare, which is
// only appropriate for local development.
func NewRegistry(ctx context.Context, url string, logger *slog.Logger) *Registry {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if clientID := os.Getenv("CLIENT_SITES_CLIENT_ID"); clientID != "" {
		cc := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: os.Getenv("CLIENT_SITES_CLIENT_SECRET"),
			TokenURL:     os.Getenv("CLIENT_SITES_TOKEN_URL"),
		}
		httpClient = cc.Client(ctx)
		httpClient.Timeout = 30 * time.Second
	} else {
		logger.Warn("Client-sites credentials not configured, fetching unauthenticated")
	}

	return &Registry{
		url:      url,
		client:   httpClient,
		logger:   logger,
		interval: defaultRefreshInterval,
		configs:  map[string]types.ClientConfig{},
	}
}

// Refresh fetches the registry once and swaps the cache on success. A
// failed refresh keeps serving the previous snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("building client-sites request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching client-sites registry: %w", err)
	}
	defer resp.Body.Close()

	if err := httputil.ParseErrorResponse(resp); err != nil {
		return fmt.Errorf("client-sites registry: %w", err)
	}

	var configs []types.ClientConfig
	if err := json.NewDecoder(resp.Body).Decode(&configs); err != nil {
		return fmt.Errorf("decoding client-sites registry: %w", err)
	}

	byID := make(map[string]types.ClientConfig, len(configs))
	for _, c := range configs {
		byID[c.ClientID] = c
	}

	r.mu.Lock()
	r.configs = byID
	r.loaded = true
	r.mu.Unlock()

	r.logger.Debug("Client-sites registry refreshed", "client_count", len(byID))
	return nil
}

// Start refreshes immediately and then on a timer until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Error("Initial client-sites refresh failed", "error", err)
	}
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					r.logger.Warn("Client-sites refresh failed, keeping previous snapshot", "error", err)
				}
			}
		}
	}()
}

// Ready reports whether at least one refresh has succeeded.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Get returns the configuration for a client id.
func (r *Registry) Get(clientID string) (types.ClientConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[clientID]
	return c, ok
}
