package ethereum

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Artifact is a compiled contract: ABI plus creation bytecode.
type Artifact struct {
	ABI      string
	Bytecode string
}

// LoadArtifact reads a compiler output file. Both the hardhat layout
// ({"abi": [...], "bytecode": "0x..."}) and the foundry layout
// ({"abi": [...], "bytecode": {"object": "0x..."}}) are accepted.
func LoadArtifact(path string) (Artifact, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("读取合约构件失败: %w", err)
	}
	return ParseArtifact(content)
}

// ParseArtifact decodes artifact JSON already held in memory.
func ParseArtifact(content []byte) (Artifact, error) {
	var raw struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode json.RawMessage `json:"bytecode"`
	}
	if err := json.Unmarshal(content, &raw); err != nil {
		return Artifact{}, fmt.Errorf("解析合约构件失败: %w", err)
	}
	if len(raw.ABI) == 0 {
		return Artifact{}, errors.New("合约构件缺少 abi 字段")
	}

	abiText := string(raw.ABI)
	// 部分工具把 ABI 以字符串形式嵌套保存。
	var nested string
	if err := json.Unmarshal(raw.ABI, &nested); err == nil {
		abiText = nested
	}

	bytecode, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{ABI: abiText, Bytecode: bytecode}, nil
}

func decodeBytecode(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("合约构件缺少 bytecode 字段")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return normaliseHex(text)
	}
	var object struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(raw, &object); err != nil {
		return "", fmt.Errorf("无法识别的 bytecode 格式: %w", err)
	}
	return normaliseHex(object.Object)
}

func normaliseHex(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "0x" {
		return "", errors.New("合约字节码不能为空")
	}
	if !strings.HasPrefix(value, "0x") {
		value = "0x" + value
	}
	return value, nil
}
