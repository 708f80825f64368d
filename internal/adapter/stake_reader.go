package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/trading-arena/internal/config"
	apperrors "github.com/trading-arena/internal/errors"
)

const stakeProvider = "stake-rpc"

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

// StakeReader reads an agent wallet's balance of the staking token
type StakeReader struct {
	caller   ethereum.ContractCaller
	token    common.Address
	decimals int32
	abi      abi.ABI
}

// NewStakeReader dials the configured RPC endpoint
func NewStakeReader(cfg config.StakeConfig) (*StakeReader, func(), error) {
	if cfg.RPCURL == "" || !common.IsHexAddress(cfg.TokenAddress) {
		return nil, nil, fmt.Errorf("stake reader requires an RPC URL and a token address")
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to stake RPC: %w", err)
	}
	reader, err := newStakeReader(client, cfg.TokenAddress, cfg.Decimals)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return reader, client.Close, nil
}

func newStakeReader(caller ethereum.ContractCaller, token string, decimals int) (*StakeReader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &StakeReader{
		caller:   caller,
		token:    common.HexToAddress(token),
		decimals: int32(decimals),
		abi:      parsed,
	}, nil
}

// GetStake returns wallet's token balance in whole-token units
func (r *StakeReader) GetStake(ctx context.Context, wallet string) (decimal.Decimal, error) {
	if !common.IsHexAddress(wallet) {
		return decimal.Zero, apperrors.NewValidationError("walletAddress", "not a valid EVM address")
	}

	data, err := r.abi.Pack("balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, apperrors.NewUpstreamError(stakeProvider, err)
	}
	if len(result) == 0 {
		return decimal.Zero, nil
	}

	raw := new(big.Int).SetBytes(result)
	return decimal.NewFromBigInt(raw, -r.decimals), nil
}
