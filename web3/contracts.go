// Package web3 is the on-chain ledger: a binding of the Greeters contract,
// which verifies signal proofs and emits a NewGreeting event for every
// recorded greeting.
package web3

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/anonsignal/util"
	"github.com/vocdoni/anonsignal/web3/rpc"
	"go.vocdoni.io/dvote/log"
)

const (
	web3QueryTimeout = 10 * time.Second
	// DefaultPollInterval is the interval between log queries when the
	// endpoints do not support subscriptions.
	DefaultPollInterval = 5 * time.Second
)

// GreetersABI is the part of the Greeters contract interface the relay uses.
const GreetersABI = `[
	{"type":"function","name":"greet","stateMutability":"nonpayable",
	 "inputs":[{"name":"greeting","type":"bytes32"},{"name":"nullifierHash","type":"uint256"},{"name":"proof","type":"uint256[8]"}],
	 "outputs":[]},
	{"type":"event","name":"NewGreeting","anonymous":false,
	 "inputs":[{"name":"greeting","type":"bytes32","indexed":false}]}
]`

// Contracts contains the binding to the deployed Greeters contract and the
// account used to send greetings.
type Contracts struct {
	ChainID      uint64
	address      common.Address
	abi          abi.ABI
	greeters     *bind.BoundContract
	web3pool     *rpc.Web3Pool
	cli          *rpc.Client
	privKey      *ecdsa.PrivateKey
	account      common.Address
	pollInterval time.Duration
}

// NewContracts creates a new Contracts instance bound to the Greeters contract
// at the address provided, with the given web3 endpoint.
func NewContracts(greetersAddress common.Address, web3rpc string) (*Contracts, error) {
	w3pool := rpc.NewWeb3Pool()
	chainID, err := w3pool.AddEndpoint(web3rpc)
	if err != nil {
		return nil, fmt.Errorf("failed to add web3 endpoint: %w", err)
	}
	cli, err := w3pool.Client(chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return newContracts(greetersAddress, chainID, w3pool, cli)
}

func newContracts(greetersAddress common.Address, chainID uint64, pool *rpc.Web3Pool,
	cli bind.ContractBackend,
) (*Contracts, error) {
	parsed, err := abi.JSON(strings.NewReader(GreetersABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse greeters abi: %w", err)
	}
	c := &Contracts{
		ChainID:      chainID,
		address:      greetersAddress,
		abi:          parsed,
		greeters:     bind.NewBoundContract(greetersAddress, parsed, cli, cli, cli),
		web3pool:     pool,
		pollInterval: DefaultPollInterval,
	}
	if rc, ok := cli.(*rpc.Client); ok {
		c.cli = rc
	}
	return c, nil
}

// AddWeb3Endpoint adds a new web3 endpoint to the pool. It must serve the
// same chain.
func (c *Contracts) AddWeb3Endpoint(web3rpc string) error {
	chainID, err := c.web3pool.AddEndpoint(web3rpc)
	if err != nil {
		return err
	}
	if chainID != c.ChainID {
		return fmt.Errorf("endpoint %s serves chain %d, expected %d", web3rpc, chainID, c.ChainID)
	}
	return nil
}

// SetAccountPrivateKey sets the private key to be used for signing transactions.
func (c *Contracts) SetAccountPrivateKey(hexPrivKey string) error {
	var err error
	c.privKey, err = crypto.HexToECDSA(util.TrimHex(hexPrivKey))
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	c.account = crypto.PubkeyToAddress(c.privKey.PublicKey)
	return nil
}

// SetPollInterval sets the interval between log queries used when the
// endpoints do not support subscriptions.
func (c *Contracts) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// AccountAddress returns the address of the account used to sign transactions.
func (c *Contracts) AccountAddress() common.Address {
	return c.account
}

// Close releases the web3 clients.
func (c *Contracts) Close() {
	if c.web3pool != nil {
		c.web3pool.Close()
	}
}

// authTransactOpts helper method creates the transact options with the
// configured private key. It sets the nonce and the gas tip cap; the gas
// limit is left to the estimation, so reverts are reported before sending.
func (c *Contracts) authTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.privKey == nil {
		return nil, fmt.Errorf("no private key set")
	}
	if c.cli == nil {
		return nil, fmt.Errorf("no web3 client")
	}
	bChainID := new(big.Int).SetUint64(c.ChainID)
	auth, err := bind.NewKeyedTransactorWithChainID(c.privKey, bChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	// create the context with a timeout
	qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	// set the nonce
	log.Debugw("getting nonce", "address", c.account.Hex())
	nonce, err := c.cli.PendingNonceAt(qctx, c.account)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)
	// set the gas tip cap
	if auth.GasTipCap, err = c.cli.SuggestGasTipCap(qctx); err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	auth.Context = ctx
	return auth, nil
}
