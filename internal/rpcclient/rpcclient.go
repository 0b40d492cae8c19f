// Package rpcclient is the concrete RPC collaborator (spec §6.1), backed by
// go-ethereum's ethclient/rpc. Dispatch and reconciliation code against the
// Client interface, not this type, so tests can substitute a fake.
package rpcclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultTimeout bounds every individual RPC call (spec §5 timeouts).
const DefaultTimeout = 30 * time.Second

// Client is everything the core needs from one JSON-RPC endpoint.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockReceipts(ctx context.Context, number *big.Int) ([]*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// NewBlockFilter and FilterChanges back blockwise pacing (spec §4.6
	// Blockwise trigger) via eth_newBlockFilter/eth_getFilterChanges.
	NewBlockFilter(ctx context.Context) (string, error)
	FilterChanges(ctx context.Context, filterID string) ([]common.Hash, error)

	// BlobBaseFee is optional (spec §6.1); implementations may return
	// ErrUnsupported.
	BlobBaseFee(ctx context.Context) (*big.Int, error)

	Close()
}

// ErrUnsupported is returned by optional RPC methods an endpoint doesn't
// implement.
var ErrUnsupported = fmt.Errorf("rpcclient: method not supported by this endpoint")

// endpointClient wraps an *ethclient.Client plus the raw *rpc.Client for
// calls ethclient doesn't expose directly.
type endpointClient struct {
	eth *ethclient.Client
	raw *rpc.Client
	url string
}

// Dial connects to url and wraps it as a Client.
func Dial(ctx context.Context, url string) (Client, error) {
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dialing %s: %w", url, err)
	}
	return &endpointClient{eth: ethclient.NewClient(raw), raw: raw, url: url}, nil
}

func (c *endpointClient) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.eth.ChainID(ctx)
}

func (c *endpointClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *endpointClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.eth.SuggestGasPrice(ctx)
}

func (c *endpointClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	header, err := c.eth.HeaderByNumber(ctx, number)
	if err == ethereum.NotFound {
		return nil, nil
	}
	return header, err
}

func (c *endpointClient) BlockReceipts(ctx context.Context, number *big.Int) ([]*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.eth.BlockReceipts(ctx, rpc.BlockNumberOrHashWithNumber(rpc.BlockNumber(number.Int64())))
}

func (c *endpointClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

func (c *endpointClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.eth.SendTransaction(ctx, tx)
}

func (c *endpointClient) NewBlockFilter(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	var filterID string
	if err := c.raw.CallContext(ctx, &filterID, "eth_newBlockFilter"); err != nil {
		return "", fmt.Errorf("rpcclient: eth_newBlockFilter: %w", err)
	}
	return filterID, nil
}

func (c *endpointClient) FilterChanges(ctx context.Context, filterID string) ([]common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	var hashes []common.Hash
	if err := c.raw.CallContext(ctx, &hashes, "eth_getFilterChanges", filterID); err != nil {
		return nil, fmt.Errorf("rpcclient: eth_getFilterChanges: %w", err)
	}
	return hashes, nil
}

func (c *endpointClient) BlobBaseFee(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	var result hexutil.Big
	if err := c.raw.CallContext(ctx, &result, "eth_blobBaseFee"); err != nil {
		return nil, ErrUnsupported
	}
	return (*big.Int)(&result), nil
}

func (c *endpointClient) Close() {
	c.eth.Close()
}
