package main

import (
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentSchemaVersion_ReadsLatestAppliedVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT version_id FROM goose_db_version ORDER BY id DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"version_id"}).AddRow(int64(3)))

	version, err := currentSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentSchemaVersion_PropagatesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT version_id FROM goose_db_version ORDER BY id DESC LIMIT 1`).
		WillReturnError(errors.New("database unavailable"))

	_, err = currentSchemaVersion(db)
	assert.Error(t, err)
}
