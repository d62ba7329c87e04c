package model

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes,
// e.g. "chn_", "stt_", "pay_", "dsp_".
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// StringToBigInt parses a base-10 numeric column value into a *big.Int.
// Balances and amounts are stored as text-compatible numerics so they are
// never clipped to the int64 range on the way in or out.
func StringToBigInt(value string) (*big.Int, error) {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", value)
	}
	return parsed, nil
}
