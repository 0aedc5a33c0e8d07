package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

type fakeSession struct {
	explain  func(ctx context.Context, form string) (json.RawMessage, error)
	fetch    func(ctx context.Context, form string) (*models.Payload, error)
	released atomic.Int32
}

func (s *fakeSession) Explain(ctx context.Context, form string) (json.RawMessage, error) {
	if s.explain == nil {
		return json.RawMessage(`[{"Plan":{}}]`), nil
	}
	return s.explain(ctx, form)
}

func (s *fakeSession) Fetch(ctx context.Context, form string) (*models.Payload, error) {
	if s.fetch == nil {
		return &models.Payload{Rows: []json.RawMessage{json.RawMessage(`{"x":1}`)}}, nil
	}
	return s.fetch(ctx, form)
}

func (s *fakeSession) Release() { s.released.Add(1) }

type fakeMetadata struct {
	tables  []models.TableInfo
	schemas map[string]*models.TableSchema
	listErr error
	calls   atomic.Int32
}

func (m *fakeMetadata) ListTables(context.Context) ([]models.TableInfo, error) {
	m.calls.Add(1)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.tables, nil
}

func (m *fakeMetadata) TableSchema(_ context.Context, table string) (*models.TableSchema, error) {
	m.calls.Add(1)
	s, ok := m.schemas[table]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "table '%s' not found", table)
	}
	return s, nil
}

type fakeBackend struct {
	kind       models.BackendKind
	session    *fakeSession
	meta       *fakeMetadata
	acquireErr error
	acquires   atomic.Int32
}

func (b *fakeBackend) Kind() models.BackendKind                  { return b.kind }
func (b *fakeBackend) Metadata() repositories.MetadataRepository { return b.meta }
func (b *fakeBackend) Stats() pool.PoolStats                     { return pool.PoolStats{} }
func (b *fakeBackend) Close() error                              { return nil }

func (b *fakeBackend) Acquire(ctx context.Context) (repositories.Session, error) {
	b.acquires.Add(1)
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	return b.session, nil
}

type fakeProvider struct {
	order    []string
	backends map[string]*fakeBackend
	timeout  time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{backends: make(map[string]*fakeBackend), timeout: time.Second}
}

func (p *fakeProvider) add(alias string, b *fakeBackend) *fakeBackend {
	p.order = append(p.order, alias)
	p.backends[alias] = b
	return b
}

func (p *fakeProvider) Lookup(alias string) (models.BackendInfo, error) {
	b, ok := p.backends[alias]
	if !ok {
		return models.BackendInfo{}, errors.UnknownBackend(alias)
	}
	return models.BackendInfo{Alias: alias, Kind: b.kind}, nil
}

func (p *fakeProvider) List() []models.BackendInfo {
	out := make([]models.BackendInfo, 0, len(p.order))
	for _, alias := range p.order {
		out = append(out, models.BackendInfo{Alias: alias, Kind: p.backends[alias].kind})
	}
	return out
}

func (p *fakeProvider) GetOrCreatePool(_ context.Context, alias string) (repositories.Backend, error) {
	b, ok := p.backends[alias]
	if !ok {
		return nil, errors.UnknownBackend(alias)
	}
	return b, nil
}

func (p *fakeProvider) AcquireTimeout(string) time.Duration { return p.timeout }
