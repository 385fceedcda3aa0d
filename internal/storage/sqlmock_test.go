package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T, driver string) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewSQLStore(db, driver)
}

func TestMySQLDuplicateEntryMapsToDuplicateKey(t *testing.T) {
	mock, store := setupMockStore(t, "mysql")
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'P-1' for key 'uniq_users_patient'"})

	err := store.Create(context.Background(), newUser("P-1"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUniqueViolationMapsToDuplicateKey(t *testing.T) {
	mock, store := setupMockStore(t, "postgres")
	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Create(context.Background(), newUser("P-1"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRebindOnLookup(t *testing.T) {
	mock, store := setupMockStore(t, "postgres")
	rows := sqlmock.NewRows([]string{"id", "patient_id", "username", "password", "role", "age", "predictions", "messages"}).
		AddRow(uuid.NewString(), "P-9", "ravi", "pw", "patient", 40, nil, `[{"role":"admin","text":"hi","time":"t"}]`)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE patient_id = $1`)).
		WithArgs("P-9").
		WillReturnRows(rows)

	user, err := store.FindByExternalID(context.Background(), "P-9")
	require.NoError(t, err)
	assert.Equal(t, "ravi", user.Username)
	assert.Len(t, user.Messages, 1)
	assert.Nil(t, user.Predictions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWithNoMatchedRowIsNotFound(t *testing.T) {
	mock, store := setupMockStore(t, "mysql")
	user := newUser("P-4")
	user.ID = uuid.NewString()
	mock.ExpectExec(`UPDATE users SET`).
		WithArgs(user.Username, user.Password, user.Role, user.Age, sqlmock.AnyArg(), sqlmock.AnyArg(), user.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), user)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFailureIsWrapped(t *testing.T) {
	mock, store := setupMockStore(t, "mysql")
	boom := errors.New("connection refused")
	mock.ExpectQuery(`SELECT`).WillReturnError(boom)

	_, err := store.ListAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "list users")
}

func TestCorruptMessagesColumn(t *testing.T) {
	mock, store := setupMockStore(t, "mysql")
	id := uuid.NewString()
	rows := sqlmock.NewRows([]string{"id", "patient_id", "username", "password", "role", "age", "predictions", "messages"}).
		AddRow(id, "P-5", "u", "pw", "patient", 20, nil, `not json`)
	mock.ExpectQuery(`SELECT`).WithArgs(id).WillReturnRows(rows)

	_, err := store.FindByOpaqueID(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode messages")
}

func TestMySQLDSNForcesFoundRows(t *testing.T) {
	dsn, err := mysqlDSN("mysql://root:pw@tcp(127.0.0.1:3306)/clinic")
	require.NoError(t, err)
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, cfg.ClientFoundRows)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "clinic", cfg.DBName)
}
