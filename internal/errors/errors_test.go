package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfRegisteredCodes(t *testing.T) {
	t.Parallel()

	cases := map[Code]Kind{
		CodeChainFailure:          KindTransient,
		CodeSocialFailure:         KindTransient,
		CodeDecisionFailure:       KindTransient,
		CodeQuotaExceeded:         KindQuota,
		CodeConfigInvalid:         KindFatal,
		CodeInitializationFailure: KindFatal,
	}
	for code, want := range cases {
		err := New(code, "")
		assert.Equal(t, want, KindOf(err), "code %s", code)
	}
}

func TestKindOfWrappedAndForeignErrors(t *testing.T) {
	t.Parallel()

	inner := New(CodeQuotaExceeded, "daily limit reached")
	wrapped := fmt.Errorf("dispatch: %w", inner)
	assert.Equal(t, KindQuota, KindOf(wrapped))
	assert.Equal(t, KindTransient, KindOf(stdErrors.New("boom")))
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(Wrap(CodeConfigInvalid, stdErrors.New("missing"), "")))
}

func TestWithKindOverridesDefault(t *testing.T) {
	t.Parallel()

	err := New(CodeStorageFailure, "state file unreadable", WithKind(KindFatal))
	assert.Equal(t, KindFatal, err.Kind())
	assert.Equal(t, CodeStorageFailure, CodeOf(err))
}

func TestErrorFormattingAndIs(t *testing.T) {
	t.Parallel()

	cause := stdErrors.New("rpc down")
	err := Wrap(CodeChainFailure, cause, "查询余额失败", WithMetadata("rpc", "base"))
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, New(CodeChainFailure, ""))
	assert.Equal(t, "[CHAIN_FAILURE] 查询余额失败: rpc down", err.Error())
	assert.Equal(t, map[string]string{"rpc": "base"}, err.Metadata())
	assert.True(t, RetryableError(err))
}

func TestRegisterDefaultsKind(t *testing.T) {
	const code Code = "TEST_REGISTER_DEFAULT"
	Register(code, Attributes{Message: "x"})
	assert.Equal(t, KindTransient, AttributesOf(code).Kind)
	assert.Equal(t, "unknown error", AttributesOf("NEVER_REGISTERED").Message)
}
