package web3

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseEther converts a decimal ether amount such as "0.0005" into wei. The
// conversion is exact; amounts with more than 18 fractional digits are rejected.
func ParseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, errors.New("amount is empty")
	}
	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("invalid ether amount %q", amount)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("negative ether amount %q", amount)
	}
	rat.Mul(rat, new(big.Rat).SetInt(weiPerEther))
	if !rat.IsInt() {
		return nil, fmt.Errorf("ether amount %q has more than 18 decimals", amount)
	}
	return new(big.Int).Set(rat.Num()), nil
}

// MustParseEther is ParseEther for constants known to be valid.
func MustParseEther(amount string) *big.Int {
	wei, err := ParseEther(amount)
	if err != nil {
		panic(err)
	}
	return wei
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	rat := new(big.Rat).SetFrac(wei, weiPerEther)
	text := rat.FloatString(18)
	if strings.Contains(text, ".") {
		text = strings.TrimRight(text, "0")
		text = strings.TrimSuffix(text, ".")
	}
	return text
}
