// Package openai implements the llm contracts on top of any OpenAI compatible
// chat completions endpoint. The OpenMind provider reuses it with a different
// base URL and model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"CrabDAO-Agent/internal/action"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/llm"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	defaultModelName = "gpt-4-turbo-preview"
	defaultTimeout   = 60 * time.Second
)

// 每类请求的采样参数。
var (
	decisionParams = sampling{temperature: 0.8, maxTokens: 500, json: true}
	contentParams  = sampling{temperature: 0.9, maxTokens: 150}
	replyParams    = sampling{temperature: 0.8, maxTokens: 100}
	ideaParams     = sampling{temperature: 1.0, maxTokens: 100, json: true}
)

type sampling struct {
	temperature float32
	maxTokens   int
	json        bool
}

// Config 描述了调用 Chat Completions API 所需的信息。
type Config struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
	HTTPClient  *http.Client
}

// completer is the part of the go-openai client used here.
type completer interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Client 通过 go-openai 调用大模型。
type Client struct {
	name        string
	model       string
	temperature float32
	api         completer
	pick        func(n int) int
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	clientCfg.HTTPClient = httpClient

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}

	return &Client{
		name:        name,
		model:       model,
		temperature: cfg.Temperature,
		api:         goopenai.NewClientWithConfig(clientCfg),
		pick:        rand.Intn,
	}, nil
}

// Name returns the provider label used in logs.
func (c *Client) Name() string { return c.name }

// Decide asks the model for the next action and validates the reply.
func (c *Client) Decide(ctx context.Context, p llm.Perception) (action.Action, error) {
	params := decisionParams
	if c.temperature > 0 {
		params.temperature = c.temperature
	}
	content, err := c.complete(ctx, llm.DecisionPrompt(p), params)
	if err != nil {
		return action.Action{}, err
	}
	act, err := action.Parse([]byte(stripFence(content)))
	if err != nil {
		return action.Action{}, xerrors.Wrap(xerrors.CodeDecisionFailure, err, "模型返回的动作无效",
			xerrors.WithMetadata("provider", c.name))
	}
	return act, nil
}

// Generate writes a short post about topic.
func (c *Client) Generate(ctx context.Context, topic string, hints llm.ContentHints) (string, error) {
	return c.complete(ctx, llm.ContentPrompt(topic, hints), contentParams)
}

// GenerateReply writes a reply to a cast.
func (c *Client) GenerateReply(ctx context.Context, text, author string) (string, error) {
	return c.complete(ctx, llm.ReplyPrompt(text, author), replyParams)
}

// GenerateIdea proposes a token name and symbol for a random theme.
func (c *Client) GenerateIdea(ctx context.Context) (llm.TokenIdea, error) {
	theme := llm.IdeaThemes[c.pick(len(llm.IdeaThemes))]
	content, err := c.complete(ctx, llm.IdeaPrompt(theme), ideaParams)
	if err != nil {
		return llm.TokenIdea{}, err
	}
	var idea llm.TokenIdea
	if err := json.Unmarshal([]byte(stripFence(content)), &idea); err != nil {
		return llm.TokenIdea{}, xerrors.Wrap(xerrors.CodeDecisionFailure, err, "解析代币创意失败",
			xerrors.WithMetadata("provider", c.name))
	}
	idea.Name = strings.TrimSpace(idea.Name)
	idea.Symbol = strings.ToUpper(strings.TrimSpace(idea.Symbol))
	if idea.Name == "" || idea.Symbol == "" {
		return llm.TokenIdea{}, xerrors.New(xerrors.CodeDecisionFailure, "代币创意缺少名称或符号",
			xerrors.WithMetadata("provider", c.name))
	}
	return idea, nil
}

func (c *Client) complete(ctx context.Context, prompt llm.Prompt, params sampling) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt.User},
		},
		Temperature: params.temperature,
		MaxTokens:   params.maxTokens,
	}
	if params.json {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeDecisionFailure, err, fmt.Sprintf("请求 %s 失败", c.name),
			xerrors.WithMetadata("provider", c.name))
	}
	if len(resp.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeDecisionFailure, fmt.Sprintf("%s 响应中没有有效的 choices", c.name))
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", xerrors.New(xerrors.CodeDecisionFailure, fmt.Sprintf("%s 响应内容为空", c.name))
	}
	return content, nil
}

// stripFence removes a ```json fenced block some models wrap JSON in.
func stripFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

var _ llm.Provider = (*Client)(nil)
