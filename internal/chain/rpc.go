package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// RPCOptions parameterise the JSON-RPC data source.
type RPCOptions struct {
	URL     string
	Timeout time.Duration
}

// RPC reads blocks from an Ethereum JSON-RPC endpoint.
type RPC struct {
	opts      RPCOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewRPC builds a JSON-RPC data source. The connection is dialled on first use.
func NewRPC(opts RPCOptions, logger zerolog.Logger) *RPC {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &RPC{opts: opts, logger: logger.With().Str("component", "rpc_source").Logger()}
}

// ChainTip returns the latest block number.
func (r *RPC) ChainTip(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return 0, sourceError("rpc", "eth_blockNumber", err)
	}

	tip, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, sourceError("rpc", "eth_blockNumber", err)
	}
	return tip, nil
}

// Block returns the transactions of the block at height.
func (r *RPC) Block(ctx context.Context, height uint64) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return nil, sourceError("rpc", "eth_getBlockByNumber", err)
	}

	var raw json.RawMessage
	if err := client.Client().CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(height), true); err != nil {
		return nil, sourceError("rpc", "eth_getBlockByNumber", err)
	}

	txs, err := decodeBlock(raw, height)
	if err != nil {
		return nil, sourceError("rpc", "eth_getBlockByNumber", err)
	}
	return txs, nil
}

// Close releases the underlying connection.
func (r *RPC) Close() {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

func (r *RPC) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	if r.opts.URL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	rc, err := rpc.DialContext(ctx, r.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	r.client = ethclient.NewClient(rc)
	r.logger.Debug().Msg("rpc client connected")
	return r.client, nil
}

var _ DataSource = (*RPC)(nil)
