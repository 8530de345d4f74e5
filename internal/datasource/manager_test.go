package datasource

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/datasources/internal/config"
	"github.com/zjrosen/datasources/internal/naming"
)

// fakeObject records whether it was closed.
type fakeObject struct {
	mu     sync.Mutex
	dsn    string
	closed bool
}

func (o *fakeObject) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeObject) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type fakeReader struct {
	typ     string
	failOn  string
	testErr error

	mu      sync.Mutex
	created []*fakeObject
}

func (r *fakeReader) Type() string { return r.typ }

func (r *fakeReader) CreateDataSource(_ context.Context, def Definition) (any, error) {
	dsn, _ := def.Configuration["dsn"].(string)
	if dsn == r.failOn && r.failOn != "" {
		return nil, errors.New("connection refused")
	}
	obj := &fakeObject{dsn: dsn}
	r.mu.Lock()
	r.created = append(r.created, obj)
	r.mu.Unlock()
	return obj, nil
}

func (r *fakeReader) TestConnection(_ context.Context, _ Definition) error {
	return r.testErr
}

func entry(name, typ, dsn, jndi string) map[string]any {
	e := map[string]any{
		"name": name,
		"definition": map[string]any{
			"type":          typ,
			"configuration": map[string]any{"dsn": dsn},
		},
	}
	if jndi != "" {
		e["jndi"] = map[string]any{"name": jndi}
	}
	return e
}

func staticConfig(entries ...map[string]any) config.Provider {
	list := make([]any, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	return config.NewStaticProvider(map[string]any{config.DataSourcesKey: list})
}

func initialized(t *testing.T, cfg config.Provider, readers map[string]Reader, opts ...Option) (*Manager, naming.ContextManager, Service, ManagementService) {
	t.Helper()
	m := NewManager(opts...)
	nc := naming.NewCacheContext()
	svc, mgmt, err := m.Initialize(context.Background(), cfg, nc, readers)
	require.NoError(t, err)
	require.NotNil(t, svc)
	require.NotNil(t, mgmt)
	return m, nc, svc, mgmt
}

// === Unit Tests: Initialize ===

func TestManager_Initialize_CreatesAndBinds(t *testing.T) {
	rdbms := &fakeReader{typ: "rdbms"}
	cfg := staticConfig(
		entry("main", "rdbms", "file:main.db", "jdbc/main"),
		entry("audit", "rdbms", "file:audit.db", ""),
	)

	_, nc, svc, _ := initialized(t, cfg, map[string]Reader{"rdbms": rdbms})

	all := svc.GetAllDataSources()
	require.Len(t, all, 2)
	require.Equal(t, "audit", all[0].Metadata.Name)
	require.True(t, all[0].Metadata.System)

	main, err := svc.GetDataSource("main")
	require.NoError(t, err)
	require.Equal(t, "file:main.db", main.Object.(*fakeObject).dsn)

	bound, err := nc.Lookup(context.Background(), "jdbc/main")
	require.NoError(t, err)
	require.Same(t, main.Object, bound)
}

func TestManager_Initialize_MissingNamespaceIsEmpty(t *testing.T) {
	_, _, svc, _ := initialized(t, config.NewStaticProvider(nil), nil)
	require.Empty(t, svc.GetAllDataSources())
}

func TestManager_Initialize_Twice(t *testing.T) {
	m, nc, _, _ := initialized(t, config.NewStaticProvider(nil), nil)

	_, _, err := m.Initialize(context.Background(), config.NewStaticProvider(nil), nc, nil)
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	var dsErr *Error
	require.ErrorAs(t, err, &dsErr)
	require.Equal(t, "initialize", dsErr.Op)
}

func TestManager_Initialize_RequiresDependencies(t *testing.T) {
	m := NewManager()
	_, _, err := m.Initialize(context.Background(), nil, naming.NewCacheContext(), nil)
	require.Error(t, err)
}

func TestManager_Initialize_UnknownType(t *testing.T) {
	m := NewManager()
	cfg := staticConfig(entry("cache", "redis", "localhost:6379", ""))

	_, _, err := m.Initialize(context.Background(), cfg, naming.NewCacheContext(), map[string]Reader{"rdbms": &fakeReader{typ: "rdbms"}})
	require.ErrorIs(t, err, ErrUnknownType)

	var dsErr *Error
	require.ErrorAs(t, err, &dsErr)
	require.Equal(t, "cache", dsErr.Name)
}

func TestManager_Initialize_DuplicateNames(t *testing.T) {
	m := NewManager()
	cfg := staticConfig(
		entry("main", "rdbms", "a", ""),
		entry("main", "rdbms", "b", ""),
	)
	_, _, err := m.Initialize(context.Background(), cfg, naming.NewCacheContext(), map[string]Reader{"rdbms": &fakeReader{typ: "rdbms"}})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestManager_Initialize_InvalidMetadata(t *testing.T) {
	m := NewManager()
	cfg := staticConfig(entry("", "rdbms", "a", ""))
	_, _, err := m.Initialize(context.Background(), cfg, naming.NewCacheContext(), nil)
	require.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestManager_Initialize_RollsBackOnFailure(t *testing.T) {
	rdbms := &fakeReader{typ: "rdbms", failOn: "bad"}
	cfg := staticConfig(
		entry("first", "rdbms", "good", "jdbc/first"),
		entry("second", "rdbms", "bad", ""),
	)
	m := NewManager()
	nc := naming.NewCacheContext()

	_, _, err := m.Initialize(context.Background(), cfg, nc, map[string]Reader{"rdbms": rdbms})
	require.ErrorContains(t, err, "connection refused")

	require.Equal(t, 0, m.Repository().Len())
	require.Empty(t, nc.Names(context.Background()))
	require.Len(t, rdbms.created, 1)
	require.True(t, rdbms.created[0].isClosed())

	// A failed initialize does not count as initialized.
	_, _, err = m.Initialize(context.Background(), config.NewStaticProvider(nil), nc, nil)
	require.NoError(t, err)
}

func TestManager_Initialize_JNDIReference(t *testing.T) {
	cfg := config.NewStaticProvider(map[string]any{config.DataSourcesKey: []any{
		map[string]any{
			"name":       "main",
			"jndi":       map[string]any{"name": "jdbc/main", "use_reference": true},
			"definition": map[string]any{"type": "rdbms"},
		},
	}})
	_, nc, _, _ := initialized(t, cfg, map[string]Reader{"rdbms": &fakeReader{typ: "rdbms"}})

	md, err := naming.LookupAs[Metadata](context.Background(), nc, "jdbc/main")
	require.NoError(t, err)
	require.Equal(t, "main", md.Name)
}

// === Unit Tests: Services ===

func TestQueryService_CreateDataSourceIsUnregistered(t *testing.T) {
	rdbms := &fakeReader{typ: "rdbms"}
	_, _, svc, _ := initialized(t, config.NewStaticProvider(nil), map[string]Reader{"rdbms": rdbms})

	obj, err := svc.CreateDataSource(context.Background(), Definition{Type: "rdbms", Configuration: map[string]any{"dsn": "x"}})
	require.NoError(t, err)
	require.Equal(t, "x", obj.(*fakeObject).dsn)
	require.Empty(t, svc.GetAllDataSources())

	_, err = svc.CreateDataSource(context.Background(), Definition{Type: "ldap"})
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = svc.GetDataSource("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManagementService_AddAndDelete(t *testing.T) {
	rdbms := &fakeReader{typ: "rdbms"}
	var persisted [][]Metadata
	_, nc, svc, mgmt := initialized(t, staticConfig(entry("sys", "rdbms", "s", "")), map[string]Reader{"rdbms": rdbms},
		WithPersister(func(_ context.Context, all []Metadata) error {
			persisted = append(persisted, all)
			return nil
		}))

	md := Metadata{
		Name:       "reports",
		JNDI:       &JNDIConfig{Name: "jdbc/reports"},
		Definition: Definition{Type: "rdbms", Configuration: map[string]any{"dsn": "r"}},
	}
	require.NoError(t, mgmt.AddDataSource(context.Background(), md))
	require.ErrorIs(t, mgmt.AddDataSource(context.Background(), md), ErrAlreadyExists)

	got, err := mgmt.GetDataSource("reports")
	require.NoError(t, err)
	require.False(t, got.System)
	require.Len(t, mgmt.ListDataSources(), 2)

	_, err = nc.Lookup(context.Background(), "jdbc/reports")
	require.NoError(t, err)

	ds, err := svc.GetDataSource("reports")
	require.NoError(t, err)
	obj := ds.Object.(*fakeObject)

	require.NoError(t, mgmt.DeleteDataSource(context.Background(), "reports"))
	require.True(t, obj.isClosed())
	_, err = nc.Lookup(context.Background(), "jdbc/reports")
	require.ErrorIs(t, err, naming.ErrNameNotBound)
	require.ErrorIs(t, mgmt.DeleteDataSource(context.Background(), "reports"), ErrNotFound)

	require.Len(t, persisted, 2)
	require.Len(t, persisted[0], 2)
	require.Len(t, persisted[1], 1)
	require.False(t, persisted[1][0].System, "persisted entries are written as plain config")
}

func TestManagementService_SystemDataSourceIsProtected(t *testing.T) {
	_, _, _, mgmt := initialized(t, staticConfig(entry("sys", "rdbms", "s", "")), map[string]Reader{"rdbms": &fakeReader{typ: "rdbms"}})

	err := mgmt.DeleteDataSource(context.Background(), "sys")
	require.ErrorIs(t, err, ErrSystemDataSource)
	_, err = mgmt.GetDataSource("sys")
	require.NoError(t, err)
}

func TestManagementService_PersistFailureIsReported(t *testing.T) {
	_, _, _, mgmt := initialized(t, config.NewStaticProvider(nil), map[string]Reader{"rdbms": &fakeReader{typ: "rdbms"}},
		WithPersister(func(context.Context, []Metadata) error { return errors.New("disk full") }))

	err := mgmt.AddDataSource(context.Background(), Metadata{Name: "x", Definition: Definition{Type: "rdbms"}})
	require.ErrorContains(t, err, "disk full")
}

func TestManagementService_TestDataSource(t *testing.T) {
	rdbms := &fakeReader{typ: "rdbms"}
	_, _, _, mgmt := initialized(t, config.NewStaticProvider(nil), map[string]Reader{"rdbms": rdbms, "plain": plainReader{}})

	md := Metadata{Name: "probe", Definition: Definition{Type: "rdbms"}}
	require.NoError(t, mgmt.TestDataSource(context.Background(), md))

	rdbms.testErr = errors.New("timeout")
	require.ErrorContains(t, mgmt.TestDataSource(context.Background(), md), "timeout")

	md.Definition.Type = "plain"
	require.ErrorIs(t, mgmt.TestDataSource(context.Background(), md), ErrTestUnsupported)

	md.Definition.Type = "ldap"
	require.ErrorIs(t, mgmt.TestDataSource(context.Background(), md), ErrUnknownType)
}

func TestManager_Close(t *testing.T) {
	rdbms := &fakeReader{typ: "rdbms"}
	m, nc, _, _ := initialized(t, staticConfig(entry("main", "rdbms", "m", "jdbc/main")), map[string]Reader{"rdbms": rdbms})

	m.Close(context.Background())
	require.Equal(t, 0, m.Repository().Len())
	require.True(t, rdbms.created[0].isClosed())
	require.Empty(t, nc.Names(context.Background()))
}

type plainReader struct{}

func (plainReader) Type() string { return "plain" }

func (plainReader) CreateDataSource(context.Context, Definition) (any, error) { return struct{}{}, nil }

// === Unit Tests: Metadata ===

func TestMetadata_Clone(t *testing.T) {
	md := Metadata{
		Name:       "a",
		JNDI:       &JNDIConfig{Name: "jdbc/a"},
		Definition: Definition{Type: "rdbms", Configuration: map[string]any{"dsn": "x"}},
	}
	c := md.Clone()
	c.JNDI.Name = "changed"
	c.Definition.Configuration["dsn"] = "y"

	require.Equal(t, "jdbc/a", md.JNDI.Name)
	require.Equal(t, "x", md.Definition.Configuration["dsn"])
}

func TestError_Format(t *testing.T) {
	err := &Error{Op: "add", Name: "main", Err: ErrAlreadyExists}
	require.Equal(t, "datasource add main: data source already exists", err.Error())
	require.Equal(t, "datasource initialize: boom", (&Error{Op: "initialize", Err: errors.New("boom")}).Error())
	require.ErrorIs(t, err, ErrAlreadyExists)
}
