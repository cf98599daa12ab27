// Package farcaster implements social.Client over the Neynar v2 HTTP API.
package farcaster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/social"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.neynar.com/v2"
	defaultTimeout = 30 * time.Second
	defaultRate    = 5
)

// Config 描述 Neynar 客户端参数。
type Config struct {
	APIKey        string
	SignerUUID    string
	FID           int64
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Client 通过 Neynar 发帖、回复、点赞、关注并读取提及与热门内容。
type Client struct {
	apiKey     string
	signerUUID string
	fid        int64
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Neynar API Key")
	}
	signer := strings.TrimSpace(cfg.SignerUUID)
	if signer == "" {
		return nil, errors.New("未提供 Farcaster signer UUID")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = defaultRate
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		apiKey:     apiKey,
		signerUUID: signer,
		fid:        cfg.FID,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
	}, nil
}

type castPayload struct {
	Hash      string `json:"hash"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		FID      int64  `json:"fid"`
		Username string `json:"username"`
	} `json:"author"`
}

func (p castPayload) toCast() social.Cast {
	return social.Cast{
		Hash:           p.Hash,
		Text:           p.Text,
		AuthorFID:      p.Author.FID,
		AuthorUsername: p.Author.Username,
	}
}

type castResponse struct {
	Cast castPayload `json:"cast"`
}

type embed struct {
	URL string `json:"url"`
}

// Post publishes a cast, optionally embedding links.
func (c *Client) Post(ctx context.Context, text string, embeds ...string) (social.Cast, error) {
	body := map[string]any{
		"signer_uuid": c.signerUUID,
		"text":        text,
	}
	if len(embeds) > 0 {
		items := make([]embed, 0, len(embeds))
		for _, link := range embeds {
			if link = strings.TrimSpace(link); link != "" {
				items = append(items, embed{URL: link})
			}
		}
		if len(items) > 0 {
			body["embeds"] = items
		}
	}
	var resp castResponse
	if err := c.do(ctx, http.MethodPost, "/farcaster/cast", nil, body, &resp); err != nil {
		return social.Cast{}, err
	}
	return c.castResult(resp, text)
}

// Reply publishes a cast whose parent is parentHash.
func (c *Client) Reply(ctx context.Context, text, parentHash string) (social.Cast, error) {
	body := map[string]any{
		"signer_uuid": c.signerUUID,
		"text":        text,
		"parent":      parentHash,
	}
	var resp castResponse
	if err := c.do(ctx, http.MethodPost, "/farcaster/cast", nil, body, &resp); err != nil {
		return social.Cast{}, err
	}
	return c.castResult(resp, text)
}

// Like reacts to a cast.
func (c *Client) Like(ctx context.Context, hash string) error {
	body := map[string]any{
		"signer_uuid":   c.signerUUID,
		"reaction_type": "like",
		"target":        hash,
	}
	return c.do(ctx, http.MethodPost, "/farcaster/reaction", nil, body, nil)
}

// Follow follows a user by fid.
func (c *Client) Follow(ctx context.Context, fid int64) error {
	body := map[string]any{
		"signer_uuid": c.signerUUID,
		"target_fids": []int64{fid},
	}
	return c.do(ctx, http.MethodPost, "/farcaster/user/follow", nil, body, nil)
}

// Mentions returns the latest casts mentioning the agent's fid.
func (c *Client) Mentions(ctx context.Context, limit int) ([]social.Mention, error) {
	if c.fid <= 0 {
		return nil, xerrors.New(xerrors.CodeSocialFailure, "未配置 Farcaster FID，无法读取提及")
	}
	query := url.Values{}
	query.Set("fid", strconv.FormatInt(c.fid, 10))
	query.Set("type", "mentions")
	query.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Notifications []struct {
			Type string      `json:"type"`
			Cast castPayload `json:"cast"`
		} `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, "/farcaster/notifications", query, nil, &resp); err != nil {
		return nil, err
	}
	mentions := make([]social.Mention, 0, len(resp.Notifications))
	for _, n := range resp.Notifications {
		mentions = append(mentions, social.Mention{Cast: n.Cast.toCast()})
	}
	return mentions, nil
}

// Trending returns the trending feed.
func (c *Client) Trending(ctx context.Context, limit int) ([]social.Cast, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Casts []castPayload `json:"casts"`
	}
	if err := c.do(ctx, http.MethodGet, "/farcaster/feed/trending", query, nil, &resp); err != nil {
		return nil, err
	}
	casts := make([]social.Cast, 0, len(resp.Casts))
	for _, cast := range resp.Casts {
		casts = append(casts, cast.toCast())
	}
	return casts, nil
}

func (c *Client) castResult(resp castResponse, text string) (social.Cast, error) {
	if resp.Cast.Hash == "" {
		return social.Cast{}, xerrors.New(xerrors.CodeSocialFailure, "Neynar 响应缺少 cast hash")
	}
	cast := resp.Cast.toCast()
	if cast.Text == "" {
		cast.Text = text
	}
	return cast, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeSocialFailure, err, "等待 Neynar 限流失败")
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeSocialFailure, err, "序列化 Neynar 请求失败")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSocialFailure, err, "构建 Neynar 请求失败")
	}
	req.Header.Set("api_key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSocialFailure, err, "请求 Neynar 失败", xerrors.WithMetadata("path", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeSocialFailure,
			fmt.Sprintf("Neynar 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
			xerrors.WithMetadata("path", path))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeSocialFailure, err, "解析 Neynar 响应失败", xerrors.WithMetadata("path", path))
	}
	return nil
}

var _ social.Client = (*Client)(nil)
