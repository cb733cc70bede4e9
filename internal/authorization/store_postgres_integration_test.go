//go:build integration

package authorization_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"authhub/internal/authorization"
	"authhub/internal/platform/postgres"
	"authhub/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *authorization.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.EnsureSchema(context.Background(), s.postgres.DB))
	s.store = authorization.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "authorizations")
	s.Require().NoError(err)
}

func makeAuthorization() authorization.Authorization {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return authorization.Authorization{
		ID:                    uuid.New(),
		TenantID:              uuid.New(),
		PatientID:             "P-12345",
		OperatorCode:          "BRADESCO",
		ProcedureCodes:        []string{"10101012", "40304361"},
		ClinicalJustification: "Suspeita de fratura com indicacao de imagem",
		Status:                authorization.StatusDraft,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func (s *PostgresStoreSuite) TestInsertAndFindByID() {
	ctx := context.Background()
	auth := makeAuthorization()

	s.Require().NoError(s.store.Insert(ctx, auth))

	found, err := s.store.FindByID(ctx, auth.TenantID, auth.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(auth.ID, found.ID)
	s.Equal(auth.PatientID, found.PatientID)
	s.Equal(auth.OperatorCode, found.OperatorCode)
	s.Equal(auth.ProcedureCodes, found.ProcedureCodes)
	s.Equal(auth.ClinicalJustification, found.ClinicalJustification)
	s.Equal(authorization.StatusDraft, found.Status)
	s.WithinDuration(auth.CreatedAt, found.CreatedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestFindUnknownReturnsNil() {
	found, err := s.store.FindByID(context.Background(), uuid.New(), uuid.New())
	s.Require().NoError(err)
	s.Nil(found)
}

func (s *PostgresStoreSuite) TestFindScopedToTenant() {
	ctx := context.Background()
	auth := makeAuthorization()
	s.Require().NoError(s.store.Insert(ctx, auth))

	found, err := s.store.FindByID(ctx, uuid.New(), auth.ID)
	s.Require().NoError(err)
	s.Nil(found)
}

func (s *PostgresStoreSuite) TestUpdateStatus() {
	ctx := context.Background()
	auth := makeAuthorization()
	s.Require().NoError(s.store.Insert(ctx, auth))

	updated := auth.WithStatus(authorization.StatusDispatched, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.UpdateStatus(ctx, updated))

	found, err := s.store.FindByID(ctx, auth.TenantID, auth.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(authorization.StatusDispatched, found.Status)
	s.WithinDuration(updated.UpdatedAt, found.UpdatedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestUpdateStatusUnknownRow() {
	auth := makeAuthorization()
	err := s.store.UpdateStatus(context.Background(), auth)
	s.Require().ErrorIs(err, authorization.ErrNotFound)
}
