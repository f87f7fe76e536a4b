// Package owner generates lock owner tokens.
//
// A token has the form "<instanceID>-<n>": the instance id is a UUID drawn
// once per process, n is a per-process counter. The combination is unique
// across every process and goroutine sharing the Redis instance, which is
// what prevents one holder from deleting a lock that expired and was
// re-acquired by somebody else.
package owner

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator hands out owner tokens. The zero value is not usable; call New.
type Generator struct {
	instanceID string
	counter    atomic.Uint64
}

// New creates a Generator with a fresh process instance id.
func New() *Generator {
	return &Generator{instanceID: uuid.NewString()}
}

// Next returns a token unique within the lifetime of the cluster.
// Counter wrap-around is not a practical concern: at 100M tokens per second
// it takes millennia, and every restart rotates the instance id anyway.
func (g *Generator) Next() string {
	return g.instanceID + "-" + strconv.FormatUint(g.counter.Add(1), 10)
}

// InstanceID exposes the process identity, useful in logs.
func (g *Generator) InstanceID() string {
	return g.instanceID
}
