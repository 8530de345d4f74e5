package rdbms

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/datasources/internal/datasource"
)

func mockOpener(t *testing.T) (OpenFunc, sqlmock.Sqlmock, *[]string) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var calls []string
	return func(driver, dsn string) (*sql.DB, error) {
		calls = append(calls, driver+"|"+dsn)
		return db, nil
	}, mock, &calls
}

func TestReader_Type(t *testing.T) {
	require.Equal(t, "rdbms", New().Type())
}

func TestReader_RegisteredInCatalog(t *testing.T) {
	require.Contains(t, datasource.RegisteredReaders(), Type)
	r, err := datasource.NewReader(Type)
	require.NoError(t, err)
	require.IsType(t, &Reader{}, r)
}

func TestReader_CreateDataSource_Validates(t *testing.T) {
	open, mock, calls := mockOpener(t)
	mock.ExpectPing()

	obj, err := NewWithOpener(open).CreateDataSource(context.Background(), datasource.Definition{
		Type: Type,
		Configuration: map[string]any{
			"driver":   "postgresql",
			"host":     "db.internal",
			"database": "orders",
			"user":     "app",
			"validate": true,
		},
	})
	require.NoError(t, err)
	require.IsType(t, &sql.DB{}, obj)
	require.Equal(t, []string{"postgres|postgres://app@db.internal:5432/orders?sslmode=disable"}, *calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_CreateDataSource_PingFailureClosesHandle(t *testing.T) {
	open, mock, _ := mockOpener(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err := NewWithOpener(open).CreateDataSource(context.Background(), datasource.Definition{
		Type:          Type,
		Configuration: map[string]any{"driver": "mysql", "dsn": "u:p@tcp(h:3306)/d", "validate": "true"},
	})
	require.ErrorContains(t, err, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_CreateDataSource_NoValidateSkipsPing(t *testing.T) {
	open, mock, _ := mockOpener(t)

	_, err := NewWithOpener(open).CreateDataSource(context.Background(), datasource.Definition{
		Type:          Type,
		Configuration: map[string]any{"driver": "mysql", "dsn": "u:p@tcp(h:3306)/d"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_CreateDataSource_OpenError(t *testing.T) {
	r := NewWithOpener(func(string, string) (*sql.DB, error) { return nil, errors.New("bad dsn") })
	_, err := r.CreateDataSource(context.Background(), datasource.Definition{
		Configuration: map[string]any{"dsn": "file:x.db"},
	})
	require.ErrorContains(t, err, "bad dsn")
}

func TestReader_TestConnection(t *testing.T) {
	open, mock, _ := mockOpener(t)
	mock.ExpectPing()
	mock.ExpectClose()

	err := NewWithOpener(open).TestConnection(context.Background(), datasource.Definition{
		Configuration: map[string]any{"driver": "sqlite", "database": "probe.db"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_SQLite_EndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e2e.db")

	obj, err := New().CreateDataSource(context.Background(), datasource.Definition{
		Type:          Type,
		Configuration: map[string]any{"driver": "sqlite3", "database": path, "validate": true, "max_open_conns": 1},
	})
	require.NoError(t, err)
	db := obj.(*sql.DB)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (v) VALUES (7)`)
	require.NoError(t, err)

	var v int
	require.NoError(t, db.QueryRow(`SELECT v FROM t`).Scan(&v))
	require.Equal(t, 7, v)
}

func TestNormalizeDriver(t *testing.T) {
	for in, want := range map[string]string{
		"sqlite":     DriverSQLite,
		"SQLite3":    DriverSQLite,
		"mariadb":    DriverMySQL,
		"postgresql": DriverPostgres,
		"pq":         DriverPostgres,
	} {
		got, err := NormalizeDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeDriver("oracle")
	require.ErrorContains(t, err, "unsupported driver")
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		opts    datasource.Options
		want    string
		wantErr bool
	}{
		{name: "explicit dsn wins", driver: DriverMySQL, opts: datasource.Options{"dsn": "raw"}, want: "raw"},
		{name: "sqlite database", driver: DriverSQLite, opts: datasource.Options{"database": "a.db"}, want: "file:a.db"},
		{name: "sqlite missing", driver: DriverSQLite, opts: datasource.Options{}, wantErr: true},
		{
			name:   "mysql",
			driver: DriverMySQL,
			opts:   datasource.Options{"host": "db", "port": 3307, "database": "app", "user": "u", "password": "p"},
			want:   "u:p@tcp(db:3307)/app?parseTime=true",
		},
		{
			name:   "postgres with password",
			driver: DriverPostgres,
			opts:   datasource.Options{"host": "pg", "database": "app", "user": "u", "password": "p w", "sslmode": "require"},
			want:   "postgres://u:p%20w@pg:5432/app?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildDSN(tt.driver, tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
