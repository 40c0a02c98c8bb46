package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"eventscope/internal/model"
)

// LogSource is the node the collector reads from. chain.Client implements it.
type LogSource interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// ABIResolver returns the ABI document of a contract. contract.Resolver
// implements it.
type ABIResolver interface {
	Resolve(ctx context.Context, address string, local json.RawMessage) (json.RawMessage, error)
}

// ABIStore keeps ABIs resolved remotely so later runs skip the lookup.
// config.QueryFile implements it.
type ABIStore interface {
	PersistResolvedABI(name string, abi json.RawMessage) error
}

// ParseAddress converts a contract address string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

func buildRawLog(chainID uint64, log types.Log, timestamp uint64) model.RawLog {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	row := model.RawLog{
		ChainID:          chainID,
		BlockNumber:      log.BlockNumber,
		BlockHash:        log.BlockHash.Hex(),
		TransactionHash:  log.TxHash.Hex(),
		TransactionIndex: uint64(log.TxIndex),
		LogIndex:         uint64(log.Index),
		ContractAddress:  log.Address.Hex(),
		Data:             hexutil.Encode(log.Data),
		Timestamp:        timestamp,
	}
	row.SetTopics(topics)
	return row
}
