package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the node side of a collection cycle and satisfies
// collector.LogSource. One Client is shared by every query of a run, so the
// chain id and block timestamps it learns are reused across queries.
type Client struct {
	rpcClient *rpc.Client
	eth       *ethclient.Client

	mu         sync.RWMutex
	chainID    uint64
	timestamps map[uint64]uint64
}

func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewClientFromRPC(rpcClient), nil
}

// NewClientFromRPC wraps a connected RPC client. Tests pass an in-process
// server here.
func NewClientFromRPC(rpcClient *rpc.Client) *Client {
	return &Client{
		rpcClient:  rpcClient,
		eth:        ethclient.NewClient(rpcClient),
		timestamps: make(map[uint64]uint64),
	}
}

func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID fills the chain_id column of decoded rows. The node is asked once;
// a failed lookup is not remembered.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	id := c.chainID
	c.mu.RUnlock()
	if id != 0 {
		return id, nil
	}

	n, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", n)
	}

	c.mu.Lock()
	c.chainID = n.Uint64()
	c.mu.Unlock()
	return n.Uint64(), nil
}

// LatestBlockNumber bounds the block window planned for a query.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BlockTimestamp stamps raw log rows. Logs of one window usually share few
// blocks, so headers are fetched once per block number and kept for the life
// of the client.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.timestamps[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.timestamps[number] = header.Time
	c.mu.Unlock()
	return header.Time, nil
}

// FilterLogs fetches the logs of one request chunk. The collector passes the
// query contract as the only address and the event ids of the ABI as topic0
// alternatives, or no ids to receive every event of the contract.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, logFilter(fromBlock, toBlock, addresses, topic0))
}

func logFilter(fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		q.Topics = [][]common.Hash{topic0}
	}
	return q
}
