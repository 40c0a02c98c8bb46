package model

// DecodeError records a decode failure for a log row.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}

// NewDecodeError builds a DecodeError for a raw log.
func NewDecodeError(row RawLog, err error) DecodeError {
	return DecodeError{
		ChainID:     row.ChainID,
		BlockNumber: row.BlockNumber,
		TxHash:      row.TransactionHash,
		LogIndex:    row.LogIndex,
		Address:     row.ContractAddress,
		Topic0:      row.Topic0,
		Error:       err.Error(),
	}
}
