package chain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// rpcBlock keeps only the fields the sampler needs, so unknown transaction
// types never break decoding.
type rpcBlock struct {
	Number       *hexutil.Big `json:"number"`
	Transactions []rpcTx      `json:"transactions"`
}

type rpcTx struct {
	Hash  common.Hash  `json:"hash"`
	Value *hexutil.Big `json:"value"`
}

func decodeBlock(raw json.RawMessage, height uint64) ([]Transaction, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("block %d: %w", height, ErrBlockNotFound)
	}

	var blk rpcBlock
	if err := json.Unmarshal(trimmed, &blk); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", height, err)
	}

	txs := make([]Transaction, 0, len(blk.Transactions))
	for i, tx := range blk.Transactions {
		if tx.Value == nil {
			return nil, fmt.Errorf("block %d tx %d: missing value", height, i)
		}
		txs = append(txs, Transaction{Hash: tx.Hash.Hex(), Value: tx.Value.ToInt()})
	}
	return txs, nil
}
