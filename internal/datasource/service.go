package datasource

import (
	"context"
	"fmt"

	"github.com/zjrosen/datasources/internal/log"
)

// Service is the query-facing data-source service.
type Service interface {
	// GetDataSource returns the data source called name.
	GetDataSource(name string) (*DataSource, error)

	// GetAllDataSources returns every data source sorted by name.
	GetAllDataSources() []*DataSource

	// CreateDataSource builds a standalone object from def without
	// registering it. The caller owns the result.
	CreateDataSource(ctx context.Context, def Definition) (any, error)
}

// ManagementService is the management-facing data-source service.
type ManagementService interface {
	ListDataSources() []Metadata
	GetDataSource(name string) (Metadata, error)
	AddDataSource(ctx context.Context, md Metadata) error
	DeleteDataSource(ctx context.Context, name string) error
	TestDataSource(ctx context.Context, md Metadata) error
}

type queryService struct{ m *Manager }

func (s *queryService) GetDataSource(name string) (*DataSource, error) {
	ds, ok := s.m.repo.Get(name)
	if !ok {
		return nil, opError("get", name, ErrNotFound)
	}
	return ds, nil
}

func (s *queryService) GetAllDataSources() []*DataSource {
	return s.m.repo.List()
}

func (s *queryService) CreateDataSource(ctx context.Context, def Definition) (any, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	obj, err := s.m.createObject(ctx, def)
	if err != nil {
		return nil, opError("create", "", err)
	}
	return obj, nil
}

type managementService struct{ m *Manager }

func (s *managementService) ListDataSources() []Metadata {
	return s.m.metadata()
}

func (s *managementService) GetDataSource(name string) (Metadata, error) {
	ds, ok := s.m.repo.Get(name)
	if !ok {
		return Metadata{}, opError("get", name, ErrNotFound)
	}
	return ds.Metadata.Clone(), nil
}

func (s *managementService) AddDataSource(ctx context.Context, md Metadata) error {
	if err := md.Validate(); err != nil {
		return opError("add", md.Name, err)
	}
	md.System = false

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, err := s.m.create(ctx, md); err != nil {
		return opError("add", md.Name, err)
	}
	s.m.metrics.SetDataSources(s.m.repo.Len())
	if err := s.m.persistLocked(ctx); err != nil {
		return opError("add", md.Name, err)
	}
	return nil
}

func (s *managementService) DeleteDataSource(ctx context.Context, name string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	ds, ok := s.m.repo.Get(name)
	if !ok {
		return opError("delete", name, ErrNotFound)
	}
	if ds.Metadata.System {
		return opError("delete", name, ErrSystemDataSource)
	}

	s.m.repo.Remove(name)
	s.m.release(ctx, ds)
	s.m.metrics.SetDataSources(s.m.repo.Len())
	log.Info(log.CatDB, "Data source deleted", "name", name)

	if err := s.m.persistLocked(ctx); err != nil {
		return opError("delete", name, err)
	}
	return nil
}

func (s *managementService) TestDataSource(ctx context.Context, md Metadata) error {
	if err := md.Validate(); err != nil {
		return opError("test", md.Name, err)
	}

	s.m.mu.Lock()
	r, ok := s.m.readers[md.Definition.Type]
	s.m.mu.Unlock()
	if !ok {
		return opError("test", md.Name, fmt.Errorf("%w: %s", ErrUnknownType, md.Definition.Type))
	}

	tester, ok := r.(Tester)
	if !ok {
		return opError("test", md.Name, ErrTestUnsupported)
	}
	if err := tester.TestConnection(ctx, md.Definition); err != nil {
		return opError("test", md.Name, err)
	}
	return nil
}
