package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "CrabDAO-Agent/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "crabdao.yaml", "social:\n  neynar:\n    fid: 42\n")
	t.Setenv("PRIVATE_KEY", "0xabc")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("NEYNAR_API_KEY", "neynar")
	t.Setenv("FARCASTER_SIGNER_UUID", "signer")

	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, 30, cfg.Agent.IntervalMinutes)
	assert.Equal(t, 30*time.Minute, cfg.Agent.Interval())
	assert.Equal(t, 10, cfg.Agent.MaxTxPerDay)
	assert.Equal(t, "0.001", cfg.Agent.MaxEthPerTx)
	assert.Equal(t, 2*time.Second, cfg.Agent.MentionPause)
	assert.True(t, cfg.Agent.PersistQuota)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, filepath.Join(dir, "data", "agent-state.json"), cfg.Storage.State.Path)
	assert.Equal(t, "0xabc", cfg.Chain.PrivateKey)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "https://api.neynar.com/v2", cfg.Social.Neynar.BaseURL)
	assert.Equal(t, int64(42), cfg.Social.Neynar.FID)
	assert.Empty(t, cfg.LLM.OpenMind.Features)
	assert.Equal(t, "CrabDAO Agent", cfg.Agent.Name)
	assert.True(t, cfg.Alerts.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Alerts.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "crabdao.json", `{"agent":{"max_tx_per_day":3}}`)
	t.Setenv("CRABDAO_AGENT_MAX_ETH_PER_TX", "0.0005")
	t.Setenv("CRABDAO_CHAIN_USE_TESTNET", "true")
	t.Setenv("CRABDAO_CHAIN_PRIVATE_KEY", "0xdirect")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Agent.MaxTxPerDay)
	assert.Equal(t, "0.0005", cfg.Agent.MaxEthPerTx)
	assert.True(t, cfg.Chain.UseTestnet)
	assert.Equal(t, "0xdirect", cfg.Chain.PrivateKey)
}

func TestLoadCustomSecretEnvName(t *testing.T) {
	path := writeConfig(t, "crabdao.yaml", "chain:\n  private_key_env: CRAB_WALLET\n  erc20_artifact: artifacts/erc20.json\n")
	t.Setenv("CRAB_WALLET", "0xfeed")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", cfg.Chain.PrivateKey)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "artifacts", "erc20.json"), cfg.Chain.ERC20Artifact)
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, xerrors.IsFatal(err))
}

func TestValidateReportsEveryMissingCredential(t *testing.T) {
	cfg := &Config{}
	cfg.Agent.IntervalMinutes = 30
	cfg.Agent.MentionLimit = 20
	cfg.Chain.PrivateKeyEnv = "PRIVATE_KEY"
	cfg.Storage.State.Driver = "file"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, xerrors.IsFatal(err))
	assert.Equal(t, xerrors.CodeConfigInvalid, xerrors.CodeOf(err))
	msg := err.Error()
	assert.Contains(t, msg, "PRIVATE_KEY")
	assert.Contains(t, msg, "OpenAI")
	assert.Contains(t, msg, "Neynar")
	assert.Contains(t, msg, "signer")
}

func TestValidateStorageDrivers(t *testing.T) {
	base := Config{}
	base.Agent.IntervalMinutes = 1
	base.Agent.MentionLimit = 1
	base.Chain.PrivateKey = "0x1"
	base.LLM.OpenAI.APIKey = "k"
	base.Social.Neynar.APIKey = "k"
	base.Social.Neynar.SignerUUID = "s"
	base.Social.Neynar.FID = 1

	mysqlCfg := base
	mysqlCfg.Storage.State.Driver = "mysql"
	require.ErrorContains(t, mysqlCfg.Validate(), "dsn")

	unknown := base
	unknown.Storage.State.Driver = "etcd"
	require.ErrorContains(t, unknown.Validate(), "etcd")

	events := base
	events.Storage.State.Driver = "file"
	events.Events.Driver = "rabbitmq"
	require.ErrorContains(t, events.Validate(), "events.url")
}

func TestValidateEtherAmounts(t *testing.T) {
	cfg := Config{}
	cfg.Agent.IntervalMinutes = 1
	cfg.Agent.MentionLimit = 1
	cfg.Agent.MaxEthPerTx = "lots"
	cfg.Agent.MinDeployBalance = "0.001"
	cfg.Storage.State.Driver = "file"

	err := cfg.Validate()
	require.ErrorContains(t, err, "agent.max_eth_per_tx")
	assert.NotContains(t, err.Error(), "agent.min_deploy_balance")
}

func TestValidateAlertWebhook(t *testing.T) {
	cfg := Config{}
	cfg.Agent.IntervalMinutes = 1
	cfg.Agent.MentionLimit = 1
	cfg.Agent.MaxEthPerTx = "0.001"
	cfg.Agent.MinDeployBalance = "0.001"
	cfg.Storage.State.Driver = "file"

	cfg.Alerts.WebhookURL = "ftp://hooks.example.com"
	require.ErrorContains(t, cfg.Validate(), "alerts.webhook_url")

	cfg.Alerts.WebhookURL = "https://hooks.slack.com/services/T0/B0/x"
	err := cfg.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "alerts.webhook_url")
}
