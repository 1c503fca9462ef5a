package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepositoryFactory(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	factory := NewRepositoryFactoryFromDB(Wrap(sqlDB, zap.NewNop()), zap.NewNop())

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analysis_runs").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, factory.InitSchema(context.Background()))

	repos := factory.NewRepositories()
	assert.NotNil(t, repos.Runs)
	assert.Same(t, sqlDB, factory.GetDB().DB)

	mock.ExpectClose()
	require.NoError(t, factory.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
