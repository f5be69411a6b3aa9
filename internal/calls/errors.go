package calls

import "github.com/pkg/errors"

var (
	ErrNotFound    = errors.New("call not found")
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("too many outbound calls")
)
