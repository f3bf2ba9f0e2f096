// Package backend builds the snapshots.Repository the API server persists
// ledgers to.
package backend

import (
	"context"
	"time"

	"numtrack/internal/snapshots"
)

// CleanupFunc releases connections held by a repository.
type CleanupFunc func() error

// BackendResult is a ready repository plus its optional cleanup.
type BackendResult struct {
	Repository snapshots.Repository
	Cleanup    CleanupFunc
}

// Factory creates the ledger repository for a Config.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config selects and parameterizes one ledger repository.
type Config struct {
	Type BackendType

	// file: one JSON snapshot per owner.
	DataDirectory string

	// sqlite: versioned snapshots, with an optional AMQP outbox for the
	// export worker.
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// redis: one JSON value per owner.
	RedisURL       string
	RedisKeyPrefix string
	RedisTTL       time.Duration
}

// BackendType names a ledger repository implementation.
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	FileBackend   BackendType = "file"
	SQLiteBackend BackendType = "sqlite"
	RedisBackend  BackendType = "redis"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, FileBackend, SQLiteBackend, RedisBackend:
		return true
	default:
		return false
	}
}
