package chain

import "errors"

var (
	ErrAddressMismatch            = errors.New("chain: address mismatch")
	ErrInvalidPreviousTransaction = errors.New("chain: invalid previous transaction")
	ErrPreviousHashMismatch       = errors.New("chain: previous transaction hash mismatch")
	ErrInvalidTransactionInput    = errors.New("chain: invalid transaction input")
	ErrInvalidTransactionAmount   = errors.New("chain: invalid transaction amount")
	ErrInvalidTransactionRoundup  = errors.New("chain: invalid transaction roundup")
)
