package btree

import "errors"

// Error kinds that originate in the node and orchestrator layers.
var (
	ErrDuplicateKey    = errors.New("btree: duplicate key")
	ErrRecordNotFound  = errors.New("btree: record not found")
	ErrInvalidPageType = errors.New("btree: unexpected page type")
	ErrInvalidOperation = errors.New("btree: invalid operation")
)
