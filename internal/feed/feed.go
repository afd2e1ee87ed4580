// Package feed implements the concrete intelligence sources. Each feed
// declares its capability set once at construction; the manager and
// pipeline dispatch on those flags, never on feed names.
package feed

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"ctiharvest/internal/fetchclient"
	"ctiharvest/internal/intel"
)

// Base carries the identity and plumbing shared by every feed.
type Base struct {
	name        string
	kind        intel.SourceKind
	class       intel.ContentClass
	incremental bool

	client *fetchclient.Client
	clock  intel.Clock
	logger *zap.Logger
}

// NewBase wires the shared feed plumbing.
func NewBase(
	name string,
	kind intel.SourceKind,
	class intel.ContentClass,
	incremental bool,
	client *fetchclient.Client,
	clock intel.Clock,
	logger *zap.Logger,
) Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Base{
		name:        name,
		kind:        kind,
		class:       class,
		incremental: incremental,
		client:      client,
		clock:       clock,
		logger:      logger.With(zap.String("feed", name)),
	}
}

// Name returns the unique feed name.
func (b *Base) Name() string { return b.name }

// Kind returns the source kind.
func (b *Base) Kind() intel.SourceKind { return b.kind }

// Class returns the parser branch for this feed's payloads.
func (b *Base) Class() intel.ContentClass { return b.class }

// SupportsIncremental reports the static incremental-fetch capability.
func (b *Base) SupportsIncremental() bool { return b.incremental }

// decodeJSON unmarshals a response body into out with feed context on error.
func (b *Base) decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", b.name, err)
	}
	return nil
}
