package fork

import "github.com/pkg/errors"

// ErrBlockNotFound indicates a block required by an operation does not exist at the remote endpoint. This is a domain
// miss, distinct from a transport failure.
var ErrBlockNotFound = errors.New("block not found")

// ErrInvalidURL indicates a malformed or unsupported endpoint URL was provided when repointing a fork. The previously
// active provider remains in use.
var ErrInvalidURL = errors.New("invalid endpoint URL")
