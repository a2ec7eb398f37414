package landscape

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSchema_AllTablesPresent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"table_name"})
	for _, name := range requiredTables {
		rows.AddRow(name)
	}
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").WillReturnRows(rows)

	require.NoError(t, checkSchema(db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSchema_ReportsMissingTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"table_name"}).AddRow("runs").AddRow("nodes")
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").WillReturnRows(rows)

	err = checkSchema(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows_")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSchema_QueryErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").WillReturnError(errors.New("connection reset"))

	err = checkSchema(db)
	assert.Error(t, err)
}
