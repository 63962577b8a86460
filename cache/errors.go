package cache

import "errors"

var (
	ErrMethodNotCacheable = errors.New("only GET requests can be cached")
	ErrUnknownProvider    = errors.New("unknown cache provider")
	ErrCorruptEntry       = errors.New("corrupt cache entry")
)
