package web3

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/vocdoni/anonsignal/ledger"
	"github.com/vocdoni/anonsignal/types"
	"github.com/vocdoni/anonsignal/web3/rpc"
	"go.vocdoni.io/dvote/log"
)

var _ ledger.Ledger = (*Contracts)(nil)

// customErrors maps the selectors of the custom errors the contracts revert
// with to their signatures.
var customErrors = map[[4]byte]string{}

// revertKinds maps the revert reasons and custom errors of the Greeters
// contract, and of the Semaphore verifier it calls, to the error kind they
// stand for. Other reverts are not part of the protocol taxonomy.
var revertKinds = map[string]types.ErrorKind{
	"SemaphoreCore: you cannot use the same nullifier twice": types.KindNullifierAlreadyUsed,
	"Semaphore__YouAreUsingTheSameNillifierTwice()":          types.KindNullifierAlreadyUsed,
	"SemaphoreCore: invalid proof":                           types.KindInvalidProof,
	"Semaphore__InvalidProof()":                              types.KindInvalidProof,
	"invalid proof":                                          types.KindInvalidProof,
	"Pairing: pairing-opcode-failed":                         types.KindInvalidProof,
	"verifier-gte-snark-scalar-field":                        types.KindInvalidProof,
}

func init() {
	for _, sig := range []string{
		"Semaphore__YouAreUsingTheSameNillifierTwice()",
		"Semaphore__InvalidProof()",
	} {
		var selector [4]byte
		copy(selector[:], crypto.Keccak256([]byte(sig))[:4])
		customErrors[selector] = sig
	}
}

// Greet implements ledger.Ledger. It sends the greet transaction and returns
// its hash, the greeting is recorded once the transaction is mined.
func (c *Contracts) Greet(ctx context.Context, g *ledger.Greeting) (string, error) {
	if g == nil || g.NullifierHash == nil {
		return "", fmt.Errorf("%w: incomplete greeting", types.ErrInvalidProof)
	}
	if err := g.Proof.Valid(); err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidProof, err)
	}
	txOpts, err := c.authTransactOpts(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create transact options: %w", types.ErrLedgerUnavailable, err)
	}
	var proof [types.SolidityProofLen]*big.Int
	for i, e := range g.Proof {
		proof[i] = e.MathBigInt()
	}
	tx, err := c.greeters.Transact(txOpts, "greet", g.Signal, g.NullifierHash.MathBigInt(), proof)
	if err != nil {
		return "", classifyError(err)
	}
	log.Debugw("greet transaction sent", "hash", tx.Hash().Hex(), "nonce", tx.Nonce())
	return tx.Hash().Hex(), nil
}

// Confirmations implements ledger.Ledger. It subscribes to the NewGreeting
// events of the contract, falling back to polling the logs when the
// endpoints do not support subscriptions.
func (c *Contracts) Confirmations(ctx context.Context) (<-chan *ledger.ConfirmationEvent, error) {
	if c.cli == nil {
		return nil, fmt.Errorf("no web3 client")
	}
	qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	start, err := c.cli.BlockNumber(qctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get block number: %w", types.ErrLedgerUnavailable, err)
	}
	out := make(chan *ledger.ConfirmationEvent)
	logs := make(chan gethtypes.Log)
	sub, err := c.cli.SubscribeFilterLogs(ctx, c.greetingsQuery(start, nil), logs)
	if err != nil {
		log.Debugw("log subscription unavailable, polling greetings", "error", err.Error())
		go c.pollGreetings(ctx, start, out)
		return out, nil
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				close(out)
				return
			case err := <-sub.Err():
				log.Warnw("greetings subscription failed, polling", "error", err)
				c.pollGreetings(ctx, start, out)
				return
			case l := <-logs:
				ev, err := c.decodeGreeting(l)
				if err != nil {
					log.Warnw("cannot decode greeting log", "tx", l.TxHash.Hex(), "error", err.Error())
					continue
				}
				start = l.BlockNumber
				select {
				case out <- ev:
				case <-ctx.Done():
					close(out)
					return
				}
			}
		}
	}()
	return out, nil
}

// pollGreetings queries the NewGreeting logs every poll interval, from the
// block provided on, and sends them to out. It closes out when ctx is done.
func (c *Contracts) pollGreetings(ctx context.Context, from uint64, out chan<- *ledger.ConfirmationEvent) {
	defer close(out)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			log.Debugw("exiting greetings monitor")
			return
		case <-ticker.C:
			qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
			head, err := c.cli.BlockNumber(qctx)
			if err != nil || head < from {
				cancel()
				if err != nil {
					log.Warnw("failed to get block number, retrying", "error", err)
				}
				continue
			}
			logs, err := c.cli.FilterLogs(qctx, c.greetingsQuery(from, new(big.Int).SetUint64(head)))
			cancel()
			if err != nil {
				log.Warnw("failed to filter greetings, retrying", "error", err)
				continue
			}
			for _, l := range logs {
				id := fmt.Sprintf("%s/%d", l.TxHash.Hex(), l.Index)
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				ev, err := c.decodeGreeting(l)
				if err != nil {
					log.Warnw("cannot decode greeting log", "tx", l.TxHash.Hex(), "error", err.Error())
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			// the head block may get more logs, query it again
			from = head
		}
	}
}

func (c *Contracts) greetingsQuery(from uint64, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   to,
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.abi.Events["NewGreeting"].ID}},
	}
}

func (c *Contracts) decodeGreeting(l gethtypes.Log) (*ledger.ConfirmationEvent, error) {
	event := c.abi.Events["NewGreeting"]
	if len(l.Topics) == 0 || l.Topics[0] != event.ID {
		return nil, fmt.Errorf("not a NewGreeting log")
	}
	var ev struct {
		Greeting [types.SignalEncodedLen]byte
	}
	if err := c.abi.UnpackIntoInterface(&ev, "NewGreeting", l.Data); err != nil {
		return nil, err
	}
	return &ledger.ConfirmationEvent{
		Signal: ev.Greeting,
		TxRef:  l.TxHash.Hex(),
		Block:  l.BlockNumber,
	}, nil
}

// classifyError maps a failed transaction into the error taxonomy. Reverts
// are decoded once; anything that is not an answer of the node is a
// transport failure.
func classifyError(err error) error {
	if reason, ok := revertReason(err); ok {
		if kind, known := revertKinds[reason]; known {
			return fmt.Errorf("%w: %s", kind.Err(), reason)
		}
		return fmt.Errorf("greet reverted: %s", reason)
	}
	if rpc.IsCallError(err) {
		return fmt.Errorf("greet rejected: %w", err)
	}
	return fmt.Errorf("%w: %w", types.ErrLedgerUnavailable, err)
}

// revertReason extracts the revert reason carried by err, if any.
func revertReason(err error) (string, bool) {
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return dataErr.Error(), true
	}
	data, err := hexutil.Decode(hexData)
	if err != nil {
		return dataErr.Error(), true
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason, true
	}
	if len(data) >= 4 {
		if name, ok := customErrors[[4]byte(data[:4])]; ok {
			return name, true
		}
	}
	return hexData, true
}
