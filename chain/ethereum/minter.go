package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hedeqiang/relay/chain"
	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/retry"
)

// RewardMinter signs and sends mintReward calls from a single hot key.
type RewardMinter struct {
	client       *Client
	contract     event.Address
	key          *ecdsa.PrivateKey
	from         event.Address
	chainID      *big.Int
	gasLimit     uint64
	pollInterval time.Duration
	abi          abi.ABI
}

// MinterOption configures a RewardMinter.
type MinterOption func(*RewardMinter)

// WithGasLimit fixes the gas limit instead of estimating it per call.
func WithGasLimit(gas uint64) MinterOption {
	return func(m *RewardMinter) {
		m.gasLimit = gas
	}
}

// WithReceiptPollInterval sets how often WaitMined polls for a receipt.
func WithReceiptPollInterval(d time.Duration) MinterOption {
	return func(m *RewardMinter) {
		m.pollInterval = d
	}
}

// NewRewardMinter builds a minter for contract, signing with the hex-encoded
// secp256k1 key. chainID is used for EIP-155 replay protection.
func NewRewardMinter(client *Client, contract event.Address, hexKey string, chainID uint64, opts ...MinterOption) (*RewardMinter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ethereum: parse signer key: %w", err)
	}
	parsed, err := loadABI("reward")
	if err != nil {
		return nil, err
	}

	m := &RewardMinter{
		client:       client,
		contract:     contract,
		key:          key,
		from:         event.Address(crypto.PubkeyToAddress(key.PublicKey)),
		chainID:      new(big.Int).SetUint64(chainID),
		pollInterval: time.Second,
		abi:          parsed,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// From returns the signer address.
func (m *RewardMinter) From() event.Address {
	return m.from
}

func (m *RewardMinter) pack(req chain.MintRequest) ([]byte, error) {
	data, err := m.abi.Pack("mintReward",
		ethcommon.Address(req.To),
		[32]byte(req.SKU),
		[32]byte(req.TriggerID),
		req.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("ethereum: pack mintReward: %w", err)
	}
	return data, nil
}

// SimulateMint dry-runs the mint with eth_call from the signer address.
// A revert is returned wrapped in ErrReverted.
func (m *RewardMinter) SimulateMint(ctx context.Context, req chain.MintRequest) error {
	data, err := m.pack(req)
	if err != nil {
		return err
	}
	_, err = m.client.Call(ctx, CallMsg{From: m.from, To: m.contract, Data: data})
	return asRevert(err)
}

// SubmitMint signs and broadcasts the mint and returns its transaction hash.
func (m *RewardMinter) SubmitMint(ctx context.Context, req chain.MintRequest) (event.Hash, error) {
	data, err := m.pack(req)
	if err != nil {
		return event.Hash{}, err
	}

	msg := CallMsg{From: m.from, To: m.contract, Data: data}
	gas := m.gasLimit
	if gas == 0 {
		estimated, err := m.client.EstimateGas(ctx, msg)
		if err != nil {
			return event.Hash{}, asRevert(err)
		}
		gas = estimated + estimated/5
	}

	nonce, err := m.client.PendingNonce(ctx, m.from)
	if err != nil {
		return event.Hash{}, err
	}
	gasPrice, err := m.client.GasPrice(ctx)
	if err != nil {
		return event.Hash{}, err
	}

	to := ethcommon.Address(m.contract)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(m.chainID), m.key)
	if err != nil {
		return event.Hash{}, fmt.Errorf("ethereum: sign mint: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return event.Hash{}, fmt.Errorf("ethereum: encode mint: %w", err)
	}

	hash, err := m.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return event.Hash{}, asRevert(err)
	}
	return hash, nil
}

// WaitMined polls until the transaction has a receipt or ctx ends.
func (m *RewardMinter) WaitMined(ctx context.Context, txHash event.Hash) (*chain.Receipt, error) {
	var receipt *chain.Receipt
	err := retry.Do(ctx, retry.Constant{Interval: m.pollInterval}, func(ctx context.Context) error {
		r, err := m.client.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("ethereum: wait for %s: %w", txHash.Hex(), err)
		}
		return nil, err
	}
	return receipt, nil
}
