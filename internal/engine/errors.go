package engine

import "errors"

// Error kinds specific to the storage engine facade and catalog.
var (
	ErrTableNotFound      = errors.New("engine: table not found")
	ErrTableAlreadyExists = errors.New("engine: table already exists")
	ErrDatabaseNotFound   = errors.New("engine: database not found")
)
