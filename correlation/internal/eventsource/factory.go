package eventsource

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reconhawk/reconhawk-stack/common/config"
)

// Options selects and configures a backend for New.
type Options struct {
	Backend    string
	Pool       *pgxpool.Pool
	OpenSearch config.OpenSearchConfig
}

// New builds the configured backend.
func New(opts Options) (ProvenanceSource, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendPostgres:
		if opts.Pool == nil {
			return nil, fmt.Errorf("postgres event source needs a connection pool")
		}
		return NewPostgresSource(opts.Pool), nil
	case BackendOpenSearch:
		return NewOpenSearchSource(opts.OpenSearch)
	case BackendMemory:
		return NewMemorySource(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
