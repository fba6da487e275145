package metering

import (
	"strings"
	"time"

	"github.com/smallbiznis/creditline/internal/cache"
	"github.com/smallbiznis/creditline/internal/config"
)

const defaultRegistryTTL = 6 * time.Hour

// Registry keeps the open accumulators of in-flight executions by trace id.
// Entries expire so abandoned executions do not pin memory.
type Registry struct {
	items cache.Cache[string, *Accumulator]
	ttl   time.Duration
}

func NewRegistry(cfg config.Config) *Registry {
	ttl := defaultRegistryTTL
	if seconds := cfg.Metering.RegistryTTLSeconds; seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	return &Registry{
		items: cache.NewTTLCache[string, *Accumulator](),
		ttl:   ttl,
	}
}

// Put registers acc under its usage record id. An id already registered is
// rejected, settled or not, until its entry expires.
func (r *Registry) Put(acc *Accumulator) error {
	if acc == nil {
		return ErrInvalidExecution
	}
	key := acc.UsageRecordID()
	if existing, ok := r.items.Get(key); ok && existing != nil {
		return ErrExecutionExists
	}
	r.items.Set(key, acc, r.ttl)
	return nil
}

func (r *Registry) Get(traceID string) (*Accumulator, error) {
	acc, ok := r.items.Get(strings.TrimSpace(traceID))
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return acc, nil
}

func (r *Registry) Len() int {
	return r.items.Len()
}
