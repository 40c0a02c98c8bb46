package model

import (
	"encoding/json"
)

// Column names shared by raw log rows and output tables.
const (
	ColChainID          = "chain_id"
	ColBlockNumber      = "block_number"
	ColBlockHash        = "block_hash"
	ColTransactionHash  = "transaction_hash"
	ColTransactionIndex = "transaction_index"
	ColLogIndex         = "log_index"
	ColContractAddress  = "contract_address"
	ColTopic0           = "topic0"
	ColTopic1           = "topic1"
	ColTopic2           = "topic2"
	ColTopic3           = "topic3"
	ColData             = "data"
	ColTimestamp        = "timestamp"
	ColEventName        = "event_name"
)

// RawColumns is the column order of a raw log row.
var RawColumns = []string{
	ColChainID,
	ColBlockNumber,
	ColBlockHash,
	ColTransactionHash,
	ColTransactionIndex,
	ColLogIndex,
	ColContractAddress,
	ColTopic0,
	ColTopic1,
	ColTopic2,
	ColTopic3,
	ColData,
	ColTimestamp,
}

// RawLog is one fetched event log with its topics flattened into slots.
type RawLog struct {
	ChainID          uint64 `json:"chain_id"`
	BlockNumber      uint64 `json:"block_number"`
	BlockHash        string `json:"block_hash"`
	TransactionHash  string `json:"transaction_hash"`
	TransactionIndex uint64 `json:"transaction_index"`
	LogIndex         uint64 `json:"log_index"`
	ContractAddress  string `json:"contract_address"`
	Topic0           string `json:"topic0"`
	Topic1           string `json:"topic1"`
	Topic2           string `json:"topic2"`
	Topic3           string `json:"topic3"`
	Data             string `json:"data"`
	Timestamp        uint64 `json:"timestamp"`
}

// Topics returns the populated topic slots in order.
func (r RawLog) Topics() []string {
	slots := [4]string{r.Topic0, r.Topic1, r.Topic2, r.Topic3}
	n := 0
	for i, slot := range slots {
		if slot != "" {
			n = i + 1
		}
	}
	return slots[:n]
}

// SetTopics fills the topic slots from a list, ignoring anything past four.
func (r *RawLog) SetTopics(topics []string) {
	slots := []*string{&r.Topic0, &r.Topic1, &r.Topic2, &r.Topic3}
	for i, slot := range slots {
		if i < len(topics) {
			*slot = topics[i]
		} else {
			*slot = ""
		}
	}
}

// Row returns the raw columns as a table row.
func (r RawLog) Row() Row {
	return Row{
		ColChainID:          r.ChainID,
		ColBlockNumber:      r.BlockNumber,
		ColBlockHash:        r.BlockHash,
		ColTransactionHash:  r.TransactionHash,
		ColTransactionIndex: r.TransactionIndex,
		ColLogIndex:         r.LogIndex,
		ColContractAddress:  r.ContractAddress,
		ColTopic0:           r.Topic0,
		ColTopic1:           r.Topic1,
		ColTopic2:           r.Topic2,
		ColTopic3:           r.Topic3,
		ColData:             r.Data,
		ColTimestamp:        r.Timestamp,
	}
}

// UnmarshalJSON accepts both flattened topic slots and a "topics" array.
func (r *RawLog) UnmarshalJSON(data []byte) error {
	type Alias RawLog
	var a struct {
		Alias
		Topics  []string `json:"topics"`
		Address string   `json:"address"`
		TxHash  string   `json:"tx_hash"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = RawLog(a.Alias)
	if len(a.Topics) > 0 && r.Topic0 == "" {
		r.SetTopics(a.Topics)
	}
	if r.ContractAddress == "" {
		r.ContractAddress = a.Address
	}
	if r.TransactionHash == "" {
		r.TransactionHash = a.TxHash
	}
	return nil
}
