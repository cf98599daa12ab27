package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"CrabDAO-Agent/internal/action"
	"CrabDAO-Agent/internal/state"
	"CrabDAO-Agent/internal/web3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLedger struct {
	quota   state.Quota
	saves   int
	saveErr error
}

func (s *stubLedger) Quota() state.Quota { return s.quota }

func (s *stubLedger) SaveQuota(_ context.Context, q state.Quota) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.quota = q
	return nil
}

func limits(max int) Limits {
	return Limits{MaxTxPerDay: max, MaxValuePerTx: web3.MustParseEther("0.001")}
}

func send(amount string) action.Action {
	return action.Action{Kind: action.KindSendValue, To: "0x00000000000000000000000000000000000000aa", Amount: amount, Reason: "tip"}
}

func TestAdmitDailyLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewGuard(limits(2))
	g.Rollover(ctx, time.Now())
	require.NoError(t, g.Record(ctx))
	require.NoError(t, g.Record(ctx))

	decision := g.Admit(send("0.0005"))
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonDailyLimit, decision.Reason)
	assert.Equal(t, 2, g.DailyCount())

	deploy := g.Admit(action.Action{Kind: action.KindDeployToken, Name: "Foo", Symbol: "FOO", Reason: "x"})
	assert.Equal(t, ReasonDailyLimit, deploy.Reason)

	post := g.Admit(action.Action{Kind: action.KindPostUpdate, Message: "gm", Reason: "x"})
	assert.True(t, post.Allow)
}

func TestAdmitAmountCeilingRegardlessOfCount(t *testing.T) {
	t.Parallel()

	g := NewGuard(limits(10))
	decision := g.Admit(send("0.002"))
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonAmountCeiling, decision.Reason)

	assert.True(t, g.Admit(send("0.001")).Allow, "ceiling is inclusive")
	assert.True(t, g.Admit(send("0.0009999999999999")).Allow)
}

func TestAdmitInvalidAmount(t *testing.T) {
	t.Parallel()

	g := NewGuard(limits(10))
	assert.Equal(t, ReasonInvalidAmount, g.Admit(send("abc")).Reason)
}

func TestZeroDailyLimitRejectsEverything(t *testing.T) {
	t.Parallel()

	g := NewGuard(limits(0))
	assert.Equal(t, ReasonDailyLimit, g.Admit(send("0.0001")).Reason)
}

func TestRolloverResetsOnNewUTCDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewGuard(limits(3))
	day1 := time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC)

	assert.True(t, g.Rollover(ctx, day1))
	require.NoError(t, g.Record(ctx))
	assert.False(t, g.Rollover(ctx, day1.Add(20*time.Minute)))
	assert.Equal(t, 1, g.DailyCount())

	assert.True(t, g.Rollover(ctx, day1.Add(time.Hour)))
	assert.Equal(t, 0, g.DailyCount())

	// A non-UTC clock reading still maps to the UTC date.
	tokyo := time.FixedZone("JST", 9*3600)
	assert.False(t, g.Rollover(ctx, time.Date(2026, 10, 21, 8, 0, 0, 0, tokyo)))
}

func TestLedgerRestoresAndPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := &stubLedger{quota: state.Quota{DailyTxCount: 9, ResetDate: "2026-10-19"}}
	g := NewGuard(limits(10), WithLedger(ledger))
	assert.Equal(t, 9, g.DailyCount())

	g.Rollover(ctx, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 9, g.DailyCount(), "same day keeps the restored count")
	assert.Zero(t, ledger.saves)

	require.NoError(t, g.Record(ctx))
	assert.Equal(t, state.Quota{DailyTxCount: 10, ResetDate: "2026-10-19"}, ledger.quota)
	assert.Equal(t, ReasonDailyLimit, g.Admit(send("0.0001")).Reason)

	g.Rollover(ctx, time.Date(2026, 10, 20, 0, 0, 1, 0, time.UTC))
	assert.Equal(t, state.Quota{DailyTxCount: 0, ResetDate: "2026-10-20"}, ledger.quota)
}

func TestRecordPersistFailureStillCounts(t *testing.T) {
	t.Parallel()

	ledger := &stubLedger{saveErr: errors.New("disk full")}
	g := NewGuard(limits(10), WithLedger(ledger))
	require.Error(t, g.Record(context.Background()))
	assert.Equal(t, 1, g.DailyCount())
}

func TestLimitsReturnsCopy(t *testing.T) {
	t.Parallel()

	g := NewGuard(limits(1))
	l := g.Limits()
	l.MaxValuePerTx.SetInt64(0)
	assert.Equal(t, "0.001", web3.FormatEther(g.Limits().MaxValuePerTx))
}
