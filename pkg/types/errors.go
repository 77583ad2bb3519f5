package types

import "errors"

// Domain errors for type validation
var (
	ErrNilNode           = errors.New("node is nil")
	ErrUnknownNodeType   = errors.New("unknown node type")
	ErrMissingNodeID     = errors.New("node ID is required")
	ErrInvalidRank       = errors.New("rank must be >= 1")
	ErrInvalidSimilarity = errors.New("similarity must be between -1 and 1")
)
