package workers

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"arcade-backend/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testToken = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

type fakeBackend struct {
	nonce   uint64
	sendErr error
	sent    []*types.Transaction
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return b.nonce + uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func newTestSender(t *testing.T, backend EthBackend) (*ChainPayoutSender, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sender, err := NewPayoutSender(backend, config.PayoutConfig{
		PrivateKey:    hexutil.Encode(crypto.FromECDSA(key)),
		TokenContract: testToken,
		ChainID:       84532,
	})
	if err != nil {
		t.Fatalf("NewPayoutSender: %v", err)
	}
	return sender, crypto.PubkeyToAddress(key.PublicKey)
}

func TestSendPrize(t *testing.T) {
	backend := &fakeBackend{nonce: 7}
	sender, from := newTestSender(t, backend)
	winner := "0x00000000000000000000000000000000000000bb"

	hash, err := sender.SendPrize(context.Background(), winner, 14000)
	if err != nil {
		t.Fatalf("SendPrize: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions", len(backend.sent))
	}
	tx := backend.sent[0]
	if hash != tx.Hash().Hex() || len(hash) != 66 {
		t.Fatalf("hash = %s, tx hash = %s", hash, tx.Hash().Hex())
	}
	if tx.Nonce() != 7 || tx.Gas() != 60_000 || tx.Value().Sign() != 0 {
		t.Fatalf("nonce %d, gas %d, value %s", tx.Nonce(), tx.Gas(), tx.Value())
	}
	if !strings.EqualFold(tx.To().Hex(), testToken) {
		t.Fatalf("tx sent to %s, want token contract", tx.To().Hex())
	}

	signer, err := types.Sender(types.LatestSignerForChainID(big.NewInt(84532)), tx)
	if err != nil || signer != from {
		t.Fatalf("signer = %s, %v; want %s", signer.Hex(), err, from.Hex())
	}
	if sender.Address() != strings.ToLower(from.Hex()) {
		t.Fatalf("Address() = %s", sender.Address())
	}

	data := tx.Data()
	if hexutil.Encode(data[:4]) != "0xa9059cbb" || len(data) != 68 {
		t.Fatalf("calldata = %x", data)
	}
	if got := common.BytesToAddress(data[4:36]); got != common.HexToAddress(winner) {
		t.Fatalf("recipient = %s", got.Hex())
	}
	if got := new(big.Int).SetBytes(data[36:68]); got.Int64() != 14000 {
		t.Fatalf("amount = %s", got)
	}

	if _, err := sender.SendPrize(context.Background(), winner, 1); err != nil {
		t.Fatalf("second SendPrize: %v", err)
	}
	if backend.sent[1].Nonce() != 8 {
		t.Fatalf("second nonce = %d, want 8", backend.sent[1].Nonce())
	}
}

func TestSendPrizeErrors(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("replacement transaction underpriced")}
	sender, _ := newTestSender(t, backend)
	ctx := context.Background()

	if _, err := sender.SendPrize(ctx, "0xnot-an-address", 100); err == nil {
		t.Fatal("invalid recipient accepted")
	}
	if _, err := sender.SendPrize(ctx, "0x00000000000000000000000000000000000000bb", 0); err == nil {
		t.Fatal("zero amount accepted")
	}
	if _, err := sender.SendPrize(ctx, "0x00000000000000000000000000000000000000bb", 100); err == nil || !strings.Contains(err.Error(), "underpriced") {
		t.Fatalf("send error = %v", err)
	}
}

func TestNewPayoutSenderValidation(t *testing.T) {
	cases := []config.PayoutConfig{
		{PrivateKey: "zz", TokenContract: testToken, ChainID: 1},
		{PrivateKey: strings.Repeat("11", 32), TokenContract: "usdc", ChainID: 1},
		{PrivateKey: strings.Repeat("11", 32), TokenContract: testToken},
	}
	for _, cfg := range cases {
		if _, err := NewPayoutSender(&fakeBackend{}, cfg); err == nil {
			t.Errorf("NewPayoutSender(%+v) accepted", cfg)
		}
	}
}
