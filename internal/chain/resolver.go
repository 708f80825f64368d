// Package chain resolves the blockchain family and specific chain of a token address.
package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trading-arena/internal/types"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Hint carries caller-supplied chain information for one token
type Hint struct {
	Chain         types.BlockchainType
	SpecificChain types.SpecificChain
}

// Resolution is the resolved chain of one token
type Resolution struct {
	Chain         types.BlockchainType
	SpecificChain types.SpecificChain
	// Detected is false when the specific chain came from a hint
	Detected bool
}

// Resolver maps token addresses to chains
type Resolver struct {
	defaultEVM types.SpecificChain
	defaultSVM types.SpecificChain
}

// NewResolver creates a resolver with the default specific chain per family
func NewResolver(defaultEVM, defaultSVM string) *Resolver {
	evm := types.SpecificChain(strings.ToLower(defaultEVM))
	if !evm.IsKnown() || evm.Family() != types.BlockchainEVM {
		evm = types.ChainEthereum
	}
	svm := types.SpecificChain(strings.ToLower(defaultSVM))
	if svm.Family() != types.BlockchainSVM {
		svm = types.ChainSolana
	}
	return &Resolver{defaultEVM: evm, defaultSVM: svm}
}

// DetectFamily infers the blockchain family from the address format
func DetectFamily(address string) (types.BlockchainType, error) {
	if common.IsHexAddress(address) && strings.HasPrefix(strings.ToLower(address), "0x") {
		return types.BlockchainEVM, nil
	}
	if isBase58Address(address) {
		return types.BlockchainSVM, nil
	}
	return "", fmt.Errorf("unrecognized token address format: %s", address)
}

func isBase58Address(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	for _, r := range address {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

// Resolve determines the chain of a token, preferring the hint over detection.
// An unresolvable EVM specific chain falls back to the configured default.
func (r *Resolver) Resolve(address string, hint Hint) (Resolution, error) {
	if hint.SpecificChain != "" {
		if !hint.SpecificChain.IsKnown() {
			return Resolution{}, fmt.Errorf("unsupported specific chain: %s", hint.SpecificChain)
		}
		family := hint.SpecificChain.Family()
		if hint.Chain != "" && hint.Chain != family {
			return Resolution{}, fmt.Errorf("specific chain %s does not belong to %s", hint.SpecificChain, hint.Chain)
		}
		return Resolution{Chain: family, SpecificChain: hint.SpecificChain}, nil
	}

	family := hint.Chain
	if family == "" {
		detected, err := DetectFamily(address)
		if err != nil {
			return Resolution{}, err
		}
		family = detected
	}

	switch family {
	case types.BlockchainSVM:
		return Resolution{Chain: family, SpecificChain: r.defaultSVM, Detected: true}, nil
	case types.BlockchainEVM:
		return Resolution{Chain: family, SpecificChain: r.defaultEVM, Detected: true}, nil
	default:
		return Resolution{}, fmt.Errorf("unsupported blockchain: %s", family)
	}
}

// NormalizeAddress lower-cases EVM addresses so balances key consistently
func NormalizeAddress(address string) string {
	if common.IsHexAddress(address) {
		return strings.ToLower(common.HexToAddress(address).Hex())
	}
	return address
}
