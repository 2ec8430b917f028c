package txn

import "errors"

var (
	// ErrTxNotFound is returned when a transaction ID is not found.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrTxNotActive is returned when trying to commit/abort a non-active transaction.
	ErrTxNotActive = errors.New("transaction is not active")

	// ErrTxAborted is returned when an operation is attempted on an aborted transaction.
	ErrTxAborted = errors.New("transaction has been aborted")
)
