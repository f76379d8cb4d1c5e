package workers

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"arcade-backend/config"
	"arcade-backend/logger"
	"arcade-backend/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// transfer(address,uint256)
var transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// EthBackend is the part of an Ethereum JSON-RPC client needed to send a transfer.
type EthBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ChainPayoutSender pays prizes with ERC-20 USDC transfers from the treasury key.
type ChainPayoutSender struct {
	backend EthBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	token   common.Address
	chainID *big.Int
	closer  func()

	// One transfer at a time keeps pending nonces sequential.
	mu sync.Mutex
}

// DialPayoutSender connects to cfg.RPCURL.
func DialPayoutSender(ctx context.Context, cfg config.PayoutConfig) (*ChainPayoutSender, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", cfg.RPCURL, err)
	}
	sender, err := NewPayoutSender(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	sender.closer = client.Close
	return sender, nil
}

func NewPayoutSender(backend EthBackend, cfg config.PayoutConfig) (*ChainPayoutSender, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid payout private key: %w", err)
	}
	if !common.IsHexAddress(cfg.TokenContract) {
		return nil, fmt.Errorf("invalid token contract address %q", cfg.TokenContract)
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", cfg.ChainID)
	}
	return &ChainPayoutSender{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		token:   common.HexToAddress(cfg.TokenContract),
		chainID: big.NewInt(cfg.ChainID),
	}, nil
}

// Address is the treasury account prizes are paid from.
func (s *ChainPayoutSender) Address() string {
	return strings.ToLower(s.from.Hex())
}

func (s *ChainPayoutSender) Close() {
	if s.closer != nil {
		s.closer()
	}
}

func transferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// SendPrize signs and broadcasts a token transfer of amount to `to` and returns the transaction hash.
// It does not wait for the transfer to be mined.
func (s *ChainPayoutSender) SendPrize(ctx context.Context, to string, amount models.Money) (string, error) {
	recipient, err := models.NormalizeAddress(to)
	if err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", fmt.Errorf("prize amount must be positive, got %s", amount)
	}
	data := transferCalldata(common.HexToAddress(recipient), big.NewInt(int64(amount)))

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &s.token, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas += gas / 5

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &s.token,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transfer: %w", err)
	}

	hash := signed.Hash().Hex()
	logger.WithFields(logrus.Fields{
		"to":     recipient,
		"amount": int64(amount),
		"nonce":  nonce,
		"tx":     hash,
	}).Info("prize transfer sent")
	return hash, nil
}
