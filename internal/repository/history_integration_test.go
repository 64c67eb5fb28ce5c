//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"telego/internal/apperr"
	"telego/internal/domain"
	"telego/internal/repository"
)

type HistoryRepositorySuite struct {
	suite.Suite
	pool *pgxpool.Pool
	repo *repository.HistoryRepo
}

func (s *HistoryRepositorySuite) SetupSuite() {
	s.Require().NotNil(tcPool, "tcPool must be initialized in TestMain")

	s.pool = tcPool
	s.repo = repository.NewHistoryRepo(tcPool)
}

func (s *HistoryRepositorySuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), `TRUNCATE delivery_history`)
	s.Require().NoError(err)
}

func finished(id, restaurant, courier string, status domain.Status, price, value float64, created time.Time) domain.Delivery {
	return domain.Delivery{
		ID:           id,
		RestaurantID: restaurant,
		CourierID:    courier,
		Status:       status,
		Price:        price,
		OrderValue:   value,
		CreatedAt:    created,
	}
}

func (s *HistoryRepositorySuite) TestArchive_UpsertsAndRejectsOpen() {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s.Require().NoError(s.repo.Archive(ctx, finished("1", "r1", "c1", domain.StatusCancelled, 8, 40, created)))
	s.Require().NoError(s.repo.Archive(ctx, finished("1", "r1", "c1", domain.StatusDelivered, 9, 40, created)))

	got, err := s.repo.History(ctx, domain.RoleCourier, "c1", 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(domain.StatusDelivered, got[0].Status)
	s.Equal(9.0, got[0].Price)
	s.True(got[0].CreatedAt.Equal(created))

	err = s.repo.Archive(ctx, finished("2", "r1", "", domain.StatusPending, 1, 1, created))
	s.ErrorIs(err, apperr.ErrInvalid)
}

func (s *HistoryRepositorySuite) TestArchiveAll_StatsByRole() {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s.Require().NoError(s.repo.ArchiveAll(ctx, []domain.Delivery{
		finished("1", "r1", "c1", domain.StatusDelivered, 10, 50, base),
		finished("2", "r1", "c2", domain.StatusDelivered, 7, 30, base.Add(time.Minute)),
		finished("3", "r1", "", domain.StatusExpired, 5, 20, base.Add(2*time.Minute)),
		finished("4", "r1", "c1", domain.StatusCancelled, 6, 25, base.Add(3*time.Minute)),
		finished("5", "r1", "c1", domain.StatusAccepted, 6, 25, base.Add(4*time.Minute)),
	}))

	st, err := s.repo.Stats(ctx, domain.RoleRestaurant, "r1")
	s.Require().NoError(err)
	s.Equal(domain.Stats{Total: 4, Delivered: 2, Cancelled: 1, Expired: 1, Earnings: 80}, st)

	st, err = s.repo.Stats(ctx, domain.RoleCourier, "c1")
	s.Require().NoError(err)
	s.Equal(domain.Stats{Total: 2, Delivered: 1, Cancelled: 1, Earnings: 10}, st)

	hist, err := s.repo.History(ctx, domain.RoleRestaurant, "r1", 0)
	s.Require().NoError(err)
	s.Require().Len(hist, 4)
	s.Equal("4", hist[0].ID)

	_, err = s.repo.Stats(ctx, domain.RoleUnselected, "x")
	s.ErrorIs(err, apperr.ErrForbidden)
}

func TestHistoryRepositorySuite(t *testing.T) {
	suite.Run(t, new(HistoryRepositorySuite))
}

func TestNewPool_Success(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := repository.NewPool(ctx, tcDSN)
	require.NoError(t, err, "expected no error from NewPool")
	defer pool.Close()

	require.NoError(t, pool.Ping(ctx), "expected no error on ping")
}
