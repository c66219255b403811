package custody

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

const (
	FamilyEVM    = "evm"
	FamilySolana = "solana"
	FamilyTron   = "tron"
)

var networkFamilies = map[string]string{
	"ethereum":  FamilyEVM,
	"base":      FamilyEVM,
	"polygon":   FamilyEVM,
	"arbitrum":  FamilyEVM,
	"optimism":  FamilyEVM,
	"bnb":       FamilyEVM,
	"bsc":       FamilyEVM,
	"avalanche": FamilyEVM,
	"celo":      FamilyEVM,
	"lisk":      FamilyEVM,
	"solana":    FamilySolana,
	"tron":      FamilyTron,
}

// NetworkFamily maps a network name to its address format.
func NetworkFamily(network string) (string, error) {
	family, ok := networkFamilies[strings.ToLower(network)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	return family, nil
}

// ValidateAddress checks that address is well formed for network.
func ValidateAddress(network, address string) error {
	family, err := NetworkFamily(network)
	if err != nil {
		return err
	}

	address = strings.TrimSpace(address)
	switch family {
	case FamilyEVM:
		if !common.IsHexAddress(address) || !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("%w: %q is not an EVM address", ErrInvalidAddress, address)
		}
		if common.HexToAddress(address) == (common.Address{}) {
			return fmt.Errorf("%w: zero address", ErrInvalidAddress)
		}
	case FamilySolana:
		decoded, err := base58.Decode(address)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("%w: %q is not a Solana address", ErrInvalidAddress, address)
		}
	case FamilyTron:
		decoded, err := base58.Decode(address)
		// base58check: 0x41 prefix + 20 byte account + 4 byte checksum
		if err != nil || !strings.HasPrefix(address, "T") || len(decoded) != 25 || decoded[0] != 0x41 {
			return fmt.Errorf("%w: %q is not a Tron address", ErrInvalidAddress, address)
		}
	}
	return nil
}
