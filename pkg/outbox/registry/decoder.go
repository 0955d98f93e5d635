package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
)

// ErrNoDecoder means the event type or version is not one this service reads.
var ErrNoDecoder = errors.New("no decoder registered")

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps inbound order events to their payload types by
// (event type, schema version).
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode fails with ErrNoDecoder for unregistered pairs.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	return decoder(payload)
}

// JSON decodes the payload into a T value. An empty or null payload is an
// error rather than a zero T.
func JSON[T any]() decoderFunc {
	return func(payload json.RawMessage) (any, error) {
		trimmed := bytes.TrimSpace(payload)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return nil, errors.New("payload missing")
		}
		var v T
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
