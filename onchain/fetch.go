// Package onchain implements the two external collaborators spec.md §6
// names but scopes out of this engine's core: JSON-RPC on-chain code/
// storage fetching, and the build-server HTTP protocol that resolves a
// deployed address to its source map, ABI, and AST. Both are consumed
// through small interfaces so the fuzzing engine itself never depends on
// network access; `go.uber.org/mock` generates the ChainFetcher test double.
package onchain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
)

// fetchCacheSize bounds the code/storage caches; a campaign touches at
// most a handful of on-chain contracts and slots.
const fetchCacheSize = 1024

// retryAttempts and retryBackoff implement spec.md §7's "Retry the single
// RPC (bounded, 3 attempts, linear backoff)" policy.
const retryAttempts = 3

var retryBackoff = 200 * time.Millisecond

// ChainFetcher lazily retrieves code and storage from a live chain, the
// interface `core/vm.Host.CodeFetcher`/`StorageFetcher` are wired against
// in on-chain mode.
type ChainFetcher interface {
	CodeAt(ctx context.Context, addr common.Address) ([]byte, bool)
	StorageAt(ctx context.Context, addr common.Address, slot uint256.Int) (uint256.Int, bool)
}

// RPCFetcher backs ChainFetcher with an `eth_getCode`/`eth_getStorageAt`
// JSON-RPC client pinned to one block number, per spec.md §6's
// `onchain-block-number` flag.
type RPCFetcher struct {
	client      *ethclient.Client
	blockNumber *big.Int

	codeCache    *lru.Cache
	storageCache *lru.Cache
}

// NewRPCFetcher dials rpcURL and pins every subsequent fetch to blockNumber
// (0 selects "latest").
func NewRPCFetcher(rpcURL string, blockNumber uint64) (*RPCFetcher, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	codeCache, err := lru.New(fetchCacheSize)
	if err != nil {
		return nil, err
	}
	storageCache, err := lru.New(fetchCacheSize)
	if err != nil {
		return nil, err
	}
	var block *big.Int
	if blockNumber != 0 {
		block = new(big.Int).SetUint64(blockNumber)
	}
	return &RPCFetcher{client: client, blockNumber: block, codeCache: codeCache, storageCache: storageCache}, nil
}

type storageKey struct {
	addr common.Address
	slot uint256.Int
}

// CodeAt fetches the runtime bytecode deployed at addr, retrying per
// spec.md §7's RPC-failure policy; a final failure returns (nil, false)
// so the caller falls back to the empty-bytecode default rather than
// treating the miss as fatal.
func (f *RPCFetcher) CodeAt(ctx context.Context, addr common.Address) ([]byte, bool) {
	if v, ok := f.codeCache.Get(addr); ok {
		return v.([]byte), true
	}
	var code []byte
	err := retryLinear(func() error {
		var rerr error
		code, rerr = f.client.CodeAt(ctx, addr, f.blockNumber)
		return rerr
	})
	if err != nil {
		log.Warn("onchain code fetch failed, using empty bytecode", "addr", addr, "err", err)
		return nil, false
	}
	f.codeCache.Add(addr, code)
	return code, true
}

// StorageAt fetches one storage slot, with the same retry-then-sentinel
// policy as CodeAt (a final failure returns the zero slot and continues).
func (f *RPCFetcher) StorageAt(ctx context.Context, addr common.Address, slot uint256.Int) (uint256.Int, bool) {
	key := storageKey{addr: addr, slot: slot}
	if v, ok := f.storageCache.Get(key); ok {
		return v.(uint256.Int), true
	}
	slotHash := common.Hash(slot.Bytes32())
	var out []byte
	err := retryLinear(func() error {
		var rerr error
		out, rerr = f.client.StorageAt(ctx, addr, slotHash, f.blockNumber)
		return rerr
	})
	if err != nil {
		log.Warn("onchain storage fetch failed, using zero slot", "addr", addr, "slot", slot.Hex(), "err", err)
		return uint256.Int{}, false
	}
	var v uint256.Int
	v.SetBytes(out)
	f.storageCache.Add(key, v)
	return v, true
}

// retryLinear runs fn up to retryAttempts times with a linearly increasing
// delay between attempts, per spec.md §7.
func retryLinear(fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < retryAttempts {
			time.Sleep(time.Duration(attempt) * retryBackoff)
		}
	}
	return err
}

// WireHost adapts a ChainFetcher into the bare func-typed hooks
// `core/vm.Host.CodeFetcher`/`StorageFetcher` expect, binding ctx once so
// the hot interpreter loop doesn't need to thread a context through every
// Code/SLoad call.
func WireHost(ctx context.Context, fetcher ChainFetcher) (code func(common.Address) ([]byte, bool), storage func(common.Address, uint256.Int) (uint256.Int, bool)) {
	code = func(addr common.Address) ([]byte, bool) { return fetcher.CodeAt(ctx, addr) }
	storage = func(addr common.Address, slot uint256.Int) (uint256.Int, bool) { return fetcher.StorageAt(ctx, addr, slot) }
	return code, storage
}
