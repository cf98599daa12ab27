// Package action defines the closed set of actions the agent can take and the
// validation applied to decisions before they reach the dispatcher.
package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"CrabDAO-Agent/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// Kind 是动作的判别标签，取值与决策模型输出的 type 字段一致。
type Kind string

const (
	KindDeployToken Kind = "DEPLOY_TOKEN"
	KindDeployNFT   Kind = "DEPLOY_NFT"
	KindPostUpdate  Kind = "POST_UPDATE"
	KindEngage      Kind = "ENGAGE_COMMUNITY"
	KindSendValue   Kind = "SEND_ETH"
	KindIdle        Kind = "IDLE"
)

// Verb 是社区互动动作的子类型。
type Verb string

const (
	VerbLike   Verb = "like"
	VerbReply  Verb = "reply"
	VerbFollow Verb = "follow"
)

// ErrInvalid 标记无法通过校验的动作。
var ErrInvalid = errors.New("invalid action")

// Action is a single decision. Only the fields of its Kind are meaningful.
type Action struct {
	Kind    Kind   `json:"type"`
	Name    string `json:"name,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message,omitempty"`
	Verb    Verb   `json:"action,omitempty"`
	Target  string `json:"target,omitempty"`
	To      string `json:"to,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Reason  string `json:"reason"`
}

// Idle returns an idle action carrying the reason.
func Idle(reason string) Action {
	return Action{Kind: KindIdle, Reason: reason}
}

// MovesValue reports whether the action spends gas or value and therefore
// counts against the daily transaction quota.
func (a Action) MovesValue() bool {
	switch a.Kind {
	case KindDeployToken, KindDeployNFT, KindSendValue:
		return true
	default:
		return false
	}
}

// Wei returns the SendValue amount in wei.
func (a Action) Wei() (*big.Int, error) {
	return web3.ParseEther(a.Amount)
}

// Recipient returns the SendValue destination address.
func (a Action) Recipient() common.Address {
	return common.HexToAddress(a.To)
}

// String renders a compact description for logs and perception context.
func (a Action) String() string {
	switch a.Kind {
	case KindDeployToken, KindDeployNFT:
		return fmt.Sprintf("%s %s (%s)", a.Kind, a.Name, a.Symbol)
	case KindPostUpdate:
		return fmt.Sprintf("%s %q", a.Kind, a.Message)
	case KindEngage:
		return fmt.Sprintf("%s %s %s", a.Kind, a.Verb, a.Target)
	case KindSendValue:
		return fmt.Sprintf("%s %s ETH to %s", a.Kind, a.Amount, a.To)
	default:
		return fmt.Sprintf("%s: %s", a.Kind, a.Reason)
	}
}

// wireAction accepts amount as either a JSON string or a number.
type wireAction struct {
	Kind    Kind            `json:"type"`
	Name    string          `json:"name"`
	Symbol  string          `json:"symbol"`
	Message string          `json:"message"`
	Verb    Verb            `json:"action"`
	Target  json.RawMessage `json:"target"`
	To      string          `json:"to"`
	Amount  json.RawMessage `json:"amount"`
	Reason  string          `json:"reason"`
}

// Parse decodes and validates a decision. Callers map a failure to Idle.
func Parse(raw []byte) (Action, error) {
	var wire wireAction
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&wire); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	act := Action{
		Kind:    Kind(strings.ToUpper(strings.TrimSpace(string(wire.Kind)))),
		Name:    strings.TrimSpace(wire.Name),
		Symbol:  strings.TrimSpace(wire.Symbol),
		Message: strings.TrimSpace(wire.Message),
		Verb:    Verb(strings.ToLower(strings.TrimSpace(string(wire.Verb)))),
		Target:  scalarText(wire.Target),
		To:      strings.TrimSpace(wire.To),
		Amount:  scalarText(wire.Amount),
		Reason:  strings.TrimSpace(wire.Reason),
	}
	if err := act.Validate(); err != nil {
		return Action{}, err
	}
	return act, nil
}

// Validate checks the fields required by the action's kind. An engage action
// with an unusable verb/target is accepted; the dispatcher treats it as a no-op.
func (a Action) Validate() error {
	if a.Reason == "" {
		return fmt.Errorf("%w: missing reason", ErrInvalid)
	}
	switch a.Kind {
	case KindDeployToken, KindDeployNFT:
		if a.Name == "" || a.Symbol == "" {
			return fmt.Errorf("%w: %s requires name and symbol", ErrInvalid, a.Kind)
		}
	case KindPostUpdate:
		if a.Message == "" {
			return fmt.Errorf("%w: POST_UPDATE requires message", ErrInvalid)
		}
	case KindSendValue:
		if !common.IsHexAddress(a.To) {
			return fmt.Errorf("%w: SEND_ETH recipient %q is not an address", ErrInvalid, a.To)
		}
		wei, err := a.Wei()
		if err != nil {
			return fmt.Errorf("%w: SEND_ETH amount: %v", ErrInvalid, err)
		}
		if wei.Sign() == 0 {
			return fmt.Errorf("%w: SEND_ETH amount must be positive", ErrInvalid)
		}
	case KindEngage, KindIdle:
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalid)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, a.Kind)
	}
	return nil
}

func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(raw))
}
