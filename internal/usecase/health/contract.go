package health

import "context"

// CachePinger checks result cache availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// DocStoreChecker checks document store availability.
type DocStoreChecker interface {
	Health(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
