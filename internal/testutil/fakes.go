// Package testutil holds in-memory collaborators shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"CrabDAO-Agent/internal/action"
	"CrabDAO-Agent/internal/llm"
	"CrabDAO-Agent/internal/social"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewManager opens a state manager backed by a file in a temp dir.
func NewManager(t testing.TB) *state.Manager {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "agent-state.json"))
	if err != nil {
		t.Fatalf("create file store: %v", err)
	}
	return state.Open(context.Background(), store, state.WithLogger(DiscardLogger()))
}

// Transfer is a recorded value transfer.
type Transfer struct {
	To  common.Address
	Wei *big.Int
}

// Chain is a web3.Client fake.
type Chain struct {
	mu         sync.Mutex
	Wallet     common.Address
	BalanceWei *big.Int
	BalanceErr error
	DeployErr  error
	SendErr    error
	Deploys    []web3.Deployment
	Transfers  []Transfer
}

// NewChain returns a fake holding the given balance in ether.
func NewChain(ether string) *Chain {
	return &Chain{
		Wallet:     common.HexToAddress("0x00000000000000000000000000000000000C4AB0"),
		BalanceWei: web3.MustParseEther(ether),
	}
}

func (c *Chain) Address() common.Address { return c.Wallet }

func (c *Chain) Balance(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	return new(big.Int).Set(c.BalanceWei), nil
}

func (c *Chain) Deploy(_ context.Context, kind web3.AssetKind, name, symbol string) (web3.Deployment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeployErr != nil {
		return web3.Deployment{}, c.DeployErr
	}
	n := len(c.Deploys) + 1
	hash := common.BigToHash(big.NewInt(int64(1000 + n)))
	d := web3.Deployment{
		Kind:        kind,
		Name:        name,
		Symbol:      symbol,
		Address:     common.BigToAddress(big.NewInt(int64(0xC0DE00 + n))),
		TxHash:      hash,
		ExplorerURL: c.TxURL(hash.Hex()),
	}
	c.Deploys = append(c.Deploys, d)
	return d, nil
}

func (c *Chain) Transfer(_ context.Context, to common.Address, wei *big.Int) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return common.Hash{}, c.SendErr
	}
	c.Transfers = append(c.Transfers, Transfer{To: to, Wei: new(big.Int).Set(wei)})
	return common.BigToHash(big.NewInt(int64(5000 + len(c.Transfers)))), nil
}

func (c *Chain) TxURL(hash string) string {
	return web3.Explorer{BaseURL: web3.TestnetExplorer}.TxURL(hash)
}

func (c *Chain) AddressURL(address string) string {
	return web3.Explorer{BaseURL: web3.TestnetExplorer}.AddressURL(address)
}

func (c *Chain) Close() {}

// DeployCount returns the number of successful deployments.
func (c *Chain) DeployCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Deploys)
}

// Post is a recorded post or reply.
type Post struct {
	Text   string
	Parent string
	Embeds []string
}

// Social is a social.Client fake.
type Social struct {
	mu           sync.Mutex
	PostErr      error
	ReplyErr     error
	LikeErr      error
	FollowErr    error
	MentionsErr  error
	TrendingErr  error
	MentionFeed  []social.Mention
	TrendingFeed []social.Cast
	Posts        []Post
	Replies      []Post
	Likes        []string
	Follows      []int64
	seq          int
}

func (s *Social) nextHash() string {
	s.seq++
	return fmt.Sprintf("0xcast%d", s.seq)
}

func (s *Social) Post(_ context.Context, text string, embeds ...string) (social.Cast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PostErr != nil {
		return social.Cast{}, s.PostErr
	}
	s.Posts = append(s.Posts, Post{Text: text, Embeds: append([]string(nil), embeds...)})
	return social.Cast{Hash: s.nextHash(), Text: text}, nil
}

func (s *Social) Reply(_ context.Context, text, parent string) (social.Cast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReplyErr != nil {
		return social.Cast{}, s.ReplyErr
	}
	s.Replies = append(s.Replies, Post{Text: text, Parent: parent})
	return social.Cast{Hash: s.nextHash(), Text: text}, nil
}

func (s *Social) Like(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LikeErr != nil {
		return s.LikeErr
	}
	s.Likes = append(s.Likes, hash)
	return nil
}

func (s *Social) Follow(_ context.Context, fid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FollowErr != nil {
		return s.FollowErr
	}
	s.Follows = append(s.Follows, fid)
	return nil
}

func (s *Social) Mentions(_ context.Context, limit int) ([]social.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MentionsErr != nil {
		return nil, s.MentionsErr
	}
	feed := s.MentionFeed
	if limit > 0 && len(feed) > limit {
		feed = feed[:limit]
	}
	return append([]social.Mention(nil), feed...), nil
}

func (s *Social) Trending(_ context.Context, limit int) ([]social.Cast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TrendingErr != nil {
		return nil, s.TrendingErr
	}
	feed := s.TrendingFeed
	if limit > 0 && len(feed) > limit {
		feed = feed[:limit]
	}
	return append([]social.Cast(nil), feed...), nil
}

// ReplyCount returns the number of replies sent.
func (s *Social) ReplyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Replies)
}

// Brain is an llm.Provider fake.
type Brain struct {
	mu          sync.Mutex
	Action      action.Action
	DecideErr   error
	Text        string
	GenerateErr error
	Idea        llm.TokenIdea
	Perceptions []llm.Perception
	Topics      []string
}

func (b *Brain) Decide(_ context.Context, p llm.Perception) (action.Action, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Perceptions = append(b.Perceptions, p)
	return b.Action, b.DecideErr
}

func (b *Brain) Generate(_ context.Context, topic string, _ llm.ContentHints) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Topics = append(b.Topics, topic)
	return b.Text, b.GenerateErr
}

func (b *Brain) GenerateReply(_ context.Context, _, _ string) (string, error) {
	return b.Text, b.GenerateErr
}

func (b *Brain) GenerateIdea(context.Context) (llm.TokenIdea, error) {
	return b.Idea, b.GenerateErr
}

var (
	_ web3.Client   = (*Chain)(nil)
	_ social.Client = (*Social)(nil)
	_ llm.Provider  = (*Brain)(nil)
)
