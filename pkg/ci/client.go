package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/oursky/kube-agent-pool/pkg/utils/httputil"
	"github.com/oursky/kube-agent-pool/pkg/utils/ratelimit"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Client talks to the CI server that owns the agent registry.
type Client struct {
	logger *zap.Logger
	client *http.Client
	base   url.URL
}

func NewClient(logger *zap.Logger, config *Config) (*Client, error) {
	transport := &oauth2.Transport{
		Base: ratelimit.NewTransport(
			http.DefaultTransport,
			rate.Limit(config.GetRPS()),
			config.GetBurst(),
		),
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token}),
	}

	return NewClientWithHTTP(logger, config.URL, &http.Client{
		Transport: transport,
		Timeout:   config.GetHTTPTimeout(),
	})
}

func NewClientWithHTTP(logger *zap.Logger, serverURL string, client *http.Client) (*Client, error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CI server URL: %w", err)
	}
	return &Client{
		logger: logger.Named("ci"),
		client: client,
		base:   *base,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method string, urlPath string, body any) (*http.Request, error) {
	u := c.base
	u.Path = path.Join(u.Path, urlPath)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	r, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Accept", "application/json")
	return r, nil
}

func (c *Client) do(r *http.Request, result any) error {
	resp, err := c.client.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := httputil.CheckStatus(resp); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) ListAgents(ctx context.Context) (Agents, error) {
	r, err := c.newRequest(ctx, http.MethodGet, "api/v1/agents", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Agents Agents `json:"agents"`
	}
	if err := c.do(r, &resp); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return resp.Agents, nil
}

type agentIDsBody struct {
	AgentIDs []string `json:"agent_ids"`
}

func (c *Client) DisableAgents(ctx context.Context, agents Agents) error {
	if len(agents) == 0 {
		return nil
	}

	c.logger.Info("disabling agents", zap.Strings("ids", agents.IDs()))
	r, err := c.newRequest(ctx, http.MethodPost, "api/v1/agents/disable", agentIDsBody{AgentIDs: agents.IDs()})
	if err != nil {
		return err
	}
	if err := c.do(r, nil); err != nil {
		return fmt.Errorf("disable agents: %w", err)
	}
	return nil
}

func (c *Client) DeleteAgents(ctx context.Context, agents Agents) error {
	if len(agents) == 0 {
		return nil
	}

	c.logger.Info("deleting agents", zap.Strings("ids", agents.IDs()))
	r, err := c.newRequest(ctx, http.MethodPost, "api/v1/agents/delete", agentIDsBody{AgentIDs: agents.IDs()})
	if err != nil {
		return err
	}
	if err := c.do(r, nil); err != nil {
		return fmt.Errorf("delete agents: %w", err)
	}
	return nil
}

func (c *Client) AppendConsoleLog(ctx context.Context, job JobIdentifier, text string) error {
	body := struct {
		JobIdentifier JobIdentifier `json:"job_identifier"`
		Text          string        `json:"text"`
	}{JobIdentifier: job, Text: text}

	r, err := c.newRequest(ctx, http.MethodPost, "api/v1/console-log", body)
	if err != nil {
		return err
	}
	if err := c.do(r, nil); err != nil {
		return fmt.Errorf("append console log: %w", err)
	}
	return nil
}
