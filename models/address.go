package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the length of a 0x-prefixed hex account address.
const AddressLength = 42

const txHashBytes = 32

// NormalizeAddress validates a 0x-prefixed 20-byte hex address and lowercases it.
func NormalizeAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return "", fmt.Errorf("address %q must start with 0x", raw)
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("address %q is not a 20-byte hex address", raw)
	}
	return strings.ToLower(addr), nil
}

// NormalizeTxReference validates a 0x-prefixed 32-byte transaction hash and lowercases it,
// so two spellings of the same hash collide on the uniqueness constraint.
func NormalizeTxReference(raw string) (string, error) {
	ref := strings.ToLower(strings.TrimSpace(raw))
	b, err := hexutil.Decode(ref)
	if err != nil {
		return "", fmt.Errorf("transaction reference %q is not hex: %w", raw, err)
	}
	if len(b) != txHashBytes {
		return "", fmt.Errorf("transaction reference %q must be %d bytes, got %d", raw, txHashBytes, len(b))
	}
	return ref, nil
}
