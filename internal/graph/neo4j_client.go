// Package graph implements the repository over Neo4j: connection
// management uses neo4j.NewDriverWithContext with a tuned connection
// pool and neo4j.ExecuteQuery with an EagerResultTransformer; the
// domain CRUD/vector/transactional operations live in repository.go.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Store wraps a Neo4j driver bound to one database, the sole writer
// of the knowledge graph.
type Store struct {
	driver   neo4j.DriverWithContext
	logger   *slog.Logger
	database string
}

// NewStore connects to uri/user/password and verifies connectivity
// before returning, so startup fails fast rather than on first query.
func NewStore(ctx context.Context, uri, user, password string) (*Store, error) {
	return NewStoreWithDatabase(ctx, uri, user, password, "neo4j")
}

// NewStoreWithDatabase is NewStore against a named database.
func NewStoreWithDatabase(ctx context.Context, uri, user, password, database string) (*Store, error) {
	if uri == "" || user == "" || password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", uri, user)
	}

	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(user, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = 3600 * time.Second
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", uri, err)
	}

	logger := slog.Default().With("component", "graph")
	logger.Info("neo4j store connected", "uri", uri, "database", database)

	return &Store{driver: driver, logger: logger, database: database}, nil
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	if err := s.driver.Close(ctx); err != nil {
		return fmt.Errorf("close neo4j driver: %w", err)
	}
	s.logger.Info("neo4j store closed")
	return nil
}

// HealthCheck verifies connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// run executes a single read or auto-commit write query and returns
// its records as plain maps, the shape every CRUD method builds on.
func (s *Store) run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		records = append(records, record.AsMap())
	}
	return records, nil
}

// runRead is run restricted to reader routing, for queries known not
// to mutate.
func (s *Store) runRead(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		records = append(records, record.AsMap())
	}
	return records, nil
}

// withWriteTransaction runs fn inside a single explicit write
// transaction so the whole transaction aborts on any failure —
// neo4j.ExecuteQuery's auto-commit mode cannot span multiple
// statements atomically.
func (s *Store) withWriteTransaction(ctx context.Context, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, fn)
}
