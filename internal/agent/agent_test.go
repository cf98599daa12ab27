package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CrabDAO-Agent/internal/action"
	"CrabDAO-Agent/internal/dispatch"
	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/events"
	"CrabDAO-Agent/internal/mention"
	"CrabDAO-Agent/internal/observability/alerting"
	"CrabDAO-Agent/internal/observability/metrics"
	"CrabDAO-Agent/internal/perception"
	"CrabDAO-Agent/internal/quota"
	"CrabDAO-Agent/internal/social"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/internal/testutil"
	"CrabDAO-Agent/internal/web3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	chain   *testutil.Chain
	social  *testutil.Social
	brain   *testutil.Brain
	state   *state.Manager
	guard   *quota.Guard
	events  *events.MemoryPublisher
	alerts  *alertRecorder
	metrics *metrics.Collector
	clock   *clock
	agent   *Agent
}

type alertRecorder struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *alertRecorder) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newFixture(t *testing.T, maxTx int) *fixture {
	t.Helper()
	quiet := testutil.DiscardLogger()
	f := &fixture{
		chain:   testutil.NewChain("1"),
		social:  &testutil.Social{},
		brain:   &testutil.Brain{Text: "🦀 gm"},
		state:   testutil.NewManager(t),
		events:  &events.MemoryPublisher{},
		alerts:  &alertRecorder{},
		metrics: metrics.NewCollector(),
		clock:   &clock{now: time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)},
	}
	f.guard = quota.NewGuard(quota.Limits{MaxTxPerDay: maxTx, MaxValuePerTx: web3.MustParseEther("0.001")},
		quota.WithLedger(f.state), quota.WithLogger(quiet))
	d := dispatch.New(dispatch.Deps{
		Chain: f.chain, Social: f.social, Content: f.brain, Guard: f.guard, State: f.state,
	}, dispatch.WithPublisher(f.events), dispatch.WithLogger(quiet), dispatch.WithAuditLogger(quiet))
	proc := mention.NewProcessor(mention.Config{Pause: time.Millisecond}, mention.Deps{
		Social: f.social, Chain: f.chain, Dispatcher: d, Content: f.brain, State: f.state,
	}, mention.WithLogger(quiet))
	asm := perception.New(f.chain, f.social, f.state, perception.WithLogger(quiet), perception.WithClock(f.clock.Now))
	f.agent = New(Deps{
		Chain:      f.chain,
		Social:     f.social,
		Decider:    f.brain,
		Dispatcher: d,
		Assembler:  asm,
		Mentions:   proc,
		Guard:      f.guard,
		State:      f.state,
		Events:     f.events,
	}, WithLogger(quiet), WithClock(f.clock.Now), WithAlerter(f.alerts), WithMetrics(f.metrics))
	return f
}

func deployToken(symbol string) action.Action {
	return action.Action{Kind: action.KindDeployToken, Name: symbol + " Coin", Symbol: symbol, Reason: "fun"}
}

func TestRunCycleDeploysAndRemembersAction(t *testing.T) {
	f := newFixture(t, 10)
	f.brain.Action = deployToken("CRAB")

	require.NoError(t, f.agent.RunCycle(context.Background()))

	assert.Equal(t, 1, f.chain.DeployCount())
	require.NotNil(t, f.agent.LastAction())
	assert.Equal(t, "CRAB", f.agent.LastAction().Symbol)
	assert.Equal(t, 1, f.guard.DailyCount())

	stats := f.agent.Stats()
	assert.Equal(t, 1, stats.Cycles)
	assert.Equal(t, 1, stats.State.TotalTokensDeployed)
	assert.Equal(t, "executed", stats.LastStatus)
	assert.Equal(t, "0.001", stats.MaxEthPerTx)

	var types []string
	for _, e := range f.events.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{events.TypeActionDispatched, events.TypeCycleCompleted}, types)
	assert.Equal(t, f.events.Events()[0].CycleID, f.events.Events()[1].CycleID)

	// 第二个周期的感知包含上一次动作。
	f.brain.Action = action.Idle("rest")
	require.NoError(t, f.agent.RunCycle(context.Background()))
	require.Len(t, f.brain.Perceptions, 2)
	require.NotNil(t, f.brain.Perceptions[1].LastAction)
	assert.Equal(t, action.KindDeployToken, f.brain.Perceptions[1].LastAction.Kind)
	assert.Equal(t, []string{"Deployed CRAB at " + f.chain.Deploys[0].Address.Hex()}, f.brain.Perceptions[1].RecentTransactions)
}

func TestRunCycleDecisionFailureIsIdle(t *testing.T) {
	f := newFixture(t, 10)
	f.brain.DecideErr = errors.New("openai down")

	require.NoError(t, f.agent.RunCycle(context.Background()))
	assert.Empty(t, f.chain.Deploys)
	assert.Empty(t, f.social.Posts)
	require.NotNil(t, f.agent.LastAction())
	assert.Equal(t, action.KindIdle, f.agent.LastAction().Kind)
	assert.Equal(t, DecisionErrorReason, f.agent.LastAction().Reason)
}

func TestRunCycleQuotaRejectionKeepsPreviousLastAction(t *testing.T) {
	f := newFixture(t, 1)
	f.brain.Action = deployToken("ONE")
	require.NoError(t, f.agent.RunCycle(context.Background()))

	f.brain.Action = deployToken("TWO")
	require.NoError(t, f.agent.RunCycle(context.Background()))
	assert.Equal(t, 1, f.chain.DeployCount())
	assert.Equal(t, "ONE", f.agent.LastAction().Symbol)
	assert.Equal(t, "rejected", f.agent.Stats().LastStatus)
	assert.Empty(t, f.alerts.events, "quota rejection is a normal path, not an alert")
	assert.Contains(t, f.metrics.Render(), `crabdao_actions_total{kind="DEPLOY_TOKEN",status="rejected"} 1`)
}

func TestRunCycleRolloverResetsQuota(t *testing.T) {
	f := newFixture(t, 1)
	f.brain.Action = deployToken("ONE")
	require.NoError(t, f.agent.RunCycle(context.Background()))
	assert.Equal(t, 1, f.guard.DailyCount())

	f.clock.Set(time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC))
	f.brain.Action = deployToken("TWO")
	require.NoError(t, f.agent.RunCycle(context.Background()))
	assert.Equal(t, 2, f.chain.DeployCount())
	assert.Equal(t, 1, f.guard.DailyCount())
	assert.Equal(t, "2024-03-02", f.state.Quota().ResetDate)
}

func TestRunCycleBalanceFailureAborts(t *testing.T) {
	f := newFixture(t, 10)
	f.chain.BalanceErr = errors.New("rpc down")
	f.brain.Action = deployToken("CRAB")

	err := f.agent.RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, f.brain.Perceptions)
	assert.Empty(t, f.chain.Deploys)

	last := f.events.Events()
	require.Len(t, last, 1)
	assert.Equal(t, events.TypeCycleCompleted, last[0].Type)
	assert.Equal(t, "failed", last[0].Status)
}

func TestRunCycleProcessesMentionsFirst(t *testing.T) {
	f := newFixture(t, 10)
	f.social.MentionFeed = []social.Mention{{Cast: social.Cast{Hash: "0xm", AuthorUsername: "alice", Text: "gm"}}}
	f.brain.Action = action.Idle("rest")

	require.NoError(t, f.agent.RunCycle(context.Background()))
	assert.Equal(t, 1, f.social.ReplyCount())

	require.NoError(t, f.agent.RunCycle(context.Background()))
	assert.Equal(t, 1, f.social.ReplyCount())
}

func TestRunCycleMentionFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t, 10)
	f.social.MentionsErr = errors.New("paid plan required")
	f.brain.Action = action.Action{Kind: action.KindPostUpdate, Message: "gm Base", Reason: "vibes"}

	require.NoError(t, f.agent.RunCycle(context.Background()))
	require.Len(t, f.social.Posts, 1)
	assert.Equal(t, "gm Base", f.social.Posts[0].Text)
}

func TestProcessMentionsBusyDuringCycle(t *testing.T) {
	f := newFixture(t, 10)
	f.agent.cycle.Lock()
	_, err := f.agent.ProcessMentions(context.Background())
	f.agent.cycle.Unlock()
	require.ErrorIs(t, err, ErrBusy)

	f.social.MentionFeed = []social.Mention{{Cast: social.Cast{Hash: "0xm", AuthorUsername: "bob", Text: "help"}}}
	replied, err := f.agent.ProcessMentions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, replied)
}

func TestInitAndAnnounce(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.agent.Init(context.Background()))

	f.agent.Announce(context.Background())
	require.Len(t, f.social.Posts, 1)
	assert.Contains(t, f.social.Posts[0].Text, "CrabDAO Agent is now online")
	assert.Contains(t, f.social.Posts[0].Text, "/address/"+f.chain.Wallet.Hex())
	assert.Equal(t, 1, f.state.Stats().TotalCasts)

	f.social.PostErr = errors.New("down")
	f.agent.Announce(context.Background())
	assert.Equal(t, 1, f.state.Stats().TotalCasts)

	f.chain.BalanceErr = errors.New("rpc down")
	err := f.agent.Init(context.Background())
	require.Error(t, err)
	assert.True(t, xerrors.IsFatal(err))
}

func TestRunCycleAlertsOnChainFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.chain.DeployErr = errors.New("out of gas")
	f.brain.Action = deployToken("CRAB")

	require.NoError(t, f.agent.RunCycle(context.Background()))
	require.Len(t, f.alerts.events, 1)
	alert := f.alerts.events[0]
	assert.Equal(t, xerrors.CodeChainFailure, alert.Code)
	assert.Equal(t, string(action.KindDeployToken), alert.Action)
	assert.Equal(t, f.events.Events()[0].CycleID, alert.CycleID)
	assert.Contains(t, f.metrics.Render(), `crabdao_actions_total{kind="DEPLOY_TOKEN",status="failed"} 1`)
}

func TestRunCycleRecordsMetrics(t *testing.T) {
	f := newFixture(t, 10)
	f.brain.Action = deployToken("CRAB")

	require.NoError(t, f.agent.RunCycle(context.Background()))
	out := f.metrics.Render()
	assert.Contains(t, out, `crabdao_cycles_total{status="executed"} 1`)
	assert.Contains(t, out, "crabdao_daily_transactions 1\n")
	assert.Contains(t, out, "crabdao_daily_transactions_limit 10\n")
	assert.Empty(t, f.alerts.events)
}
