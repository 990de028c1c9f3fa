package node

import "errors"

var (
	ErrNotFound      = errors.New("node not found")
	ErrAlreadyExists = errors.New("node already exists")
	ErrNilNode       = errors.New("node must not be nil")

	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrCorruptRecord                = errors.New("stored node record can not be decoded")
)
