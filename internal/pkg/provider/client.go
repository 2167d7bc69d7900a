package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model/dto"
)

var (
	ErrUpstream      = errors.New("provider returned an error")
	ErrEmptyArtifact = errors.New("provider returned no artifact")
)

const defaultTimeout = 60 * time.Second

// Client 通用 HTTP JSON 生成后端
type Client struct {
	id         string
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type generateRequest struct {
	Capability string                 `json:"capability"`
	Prompt     string                 `json:"prompt"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

type generateResponse struct {
	ArtifactRef string `json:"artifact_ref"`
	Cost        int64  `json:"cost"`
	Error       string `json:"error,omitempty"`
}

// NewClient 配置了 client_id 时走 OAuth2 client credentials，否则使用静态 API key
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var httpClient *http.Client
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = timeout
	} else {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		id:         cfg.ID,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

func (c *Client) ID() string {
	return c.id
}

// Generate 调用后端生成接口
func (c *Client) Generate(ctx context.Context, capability, prompt string, params map[string]interface{}) (*dto.GenerationOutput, error) {
	body, err := json.Marshal(generateRequest{
		Capability: capability,
		Prompt:     prompt,
		Params:     params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.id, err)
	}

	var out generateResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s status %d: %s", ErrUpstream, c.id, resp.StatusCode, msg)
	}
	if out.ArtifactRef == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyArtifact, c.id)
	}

	return &dto.GenerationOutput{ArtifactRef: out.ArtifactRef, Cost: out.Cost}, nil
}

// NewClients 按配置构建全部 provider 客户端
func NewClients(cfgs []config.ProviderConfig) (map[string]*Client, error) {
	clients := make(map[string]*Client, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ID == "" {
			return nil, errors.New("provider id is required")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("provider %s: endpoint is required", cfg.ID)
		}
		if _, dup := clients[cfg.ID]; dup {
			return nil, fmt.Errorf("provider %s: duplicated id", cfg.ID)
		}
		clients[cfg.ID] = NewClient(cfg)
	}
	return clients, nil
}
