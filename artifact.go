package datamarket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled contract: its ABI and creation bytecode.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	RawABI   json.RawMessage
	Bytecode []byte

	ABIPath      string
	BytecodePath string
}

// ArtifactPaths returns the descriptor and bytecode paths for a contract
// under dir: <dir>/<name>.json and <dir>/<name>.bin.
func ArtifactPaths(dir, name string) (abiPath, binPath string) {
	return filepath.Join(dir, name+".json"), filepath.Join(dir, name+".bin")
}

// LoadArtifact reads the ABI and bytecode for name from dir.
//
// The descriptor may be a bare ABI array (solc output) or an object with an
// "abi" field (Foundry and Hardhat layout). The bytecode file holds hex with
// an optional 0x prefix.
func LoadArtifact(dir, name string) (*Artifact, error) {
	abiPath, binPath := ArtifactPaths(dir, name)

	raw, err := readArtifactFile(abiPath)
	if err != nil {
		return nil, err
	}
	rawABI, err := extractABI(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMalformed, abiPath, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(rawABI))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMalformed, abiPath, err)
	}

	bin, err := readArtifactFile(binPath)
	if err != nil {
		return nil, err
	}
	code, err := decodeBytecode(string(bin))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMalformed, binPath, err)
	}

	return &Artifact{
		Name:         name,
		ABI:          parsed,
		RawABI:       rawABI,
		Bytecode:     code,
		ABIPath:      abiPath,
		BytecodePath: binPath,
	}, nil
}

func readArtifactFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// extractABI returns the ABI array from either supported descriptor layout.
func extractABI(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON")
	}
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		return json.RawMessage(trimmed), nil
	case len(trimmed) > 0 && trimmed[0] == '{':
		var wrapped struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		if len(wrapped.ABI) == 0 || wrapped.ABI[0] != '[' {
			return nil, fmt.Errorf("object descriptor has no abi array")
		}
		return wrapped.ABI, nil
	default:
		return nil, fmt.Errorf("descriptor must be an ABI array or an object with an abi field")
	}
}

func decodeBytecode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if len(s) == 2 {
		return nil, fmt.Errorf("empty bytecode")
	}
	code, err := hexutil.Decode(s)
	if err != nil {
		return nil, err
	}
	return code, nil
}
