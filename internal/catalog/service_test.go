package catalog

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

type mockRepo struct {
	drugs    map[int64]Drug
	getCalls int
}

func (m *mockRepo) Get(ctx context.Context, id int64) (Drug, error) {
	m.getCalls++
	d, ok := m.drugs[id]
	if !ok {
		return Drug{}, shared.ErrNotFound
	}
	return d, nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int, search string) ([]Drug, int, error) {
	var out []Drug
	for _, d := range m.drugs {
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *mockRepo) Create(ctx context.Context, d Drug) (Drug, error) {
	d.ID = int64(len(m.drugs) + 1)
	m.drugs[d.ID] = d
	return d, nil
}

func (m *mockRepo) Update(ctx context.Context, d Drug) error {
	if _, ok := m.drugs[d.ID]; !ok {
		return shared.ErrNotFound
	}
	m.drugs[d.ID] = d
	return nil
}

func newTestService(t *testing.T, repo *mockRepo) (*Service, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)
	svc := NewService(repo, cache)
	return svc, func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestResolveCaches(t *testing.T) {
	repo := &mockRepo{drugs: map[int64]Drug{
		11: {ID: 11, Code: "PARA500", Name: "Paracetamol 500mg", Unit: "TAB", IsActive: true},
	}}
	svc, cleanup := newTestService(t, repo)
	defer cleanup()
	ctx := context.Background()

	d, err := svc.Resolve(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, "PARA500", d.Code)
	require.Equal(t, 1, repo.getCalls)

	// served from cache
	d, err = svc.Resolve(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, "PARA500", d.Code)
	require.Equal(t, 1, repo.getCalls)
}

func TestResolveInactiveDrug(t *testing.T) {
	repo := &mockRepo{drugs: map[int64]Drug{
		12: {ID: 12, Code: "OLD", Name: "Withdrawn", Unit: "TAB", IsActive: false},
	}}
	svc, cleanup := newTestService(t, repo)
	defer cleanup()

	_, err := svc.Resolve(context.Background(), 12)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Resolve(context.Background(), 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	repo := &mockRepo{drugs: map[int64]Drug{
		11: {ID: 11, Code: "PARA500", Name: "Paracetamol 500mg", Unit: "TAB", IsActive: true},
	}}
	svc, cleanup := newTestService(t, repo)
	defer cleanup()
	ctx := context.Background()

	_, err := svc.Resolve(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, 1, repo.getCalls)

	updated := repo.drugs[11]
	updated.Name = "Paracetamol 500mg (film coated)"
	require.NoError(t, svc.Update(ctx, updated))

	d, err := svc.Resolve(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, "Paracetamol 500mg (film coated)", d.Name)
	require.Equal(t, 2, repo.getCalls)
}

func TestCreateValidation(t *testing.T) {
	repo := &mockRepo{drugs: map[int64]Drug{}}
	svc, cleanup := newTestService(t, repo)
	defer cleanup()
	ctx := context.Background()

	_, err := svc.Create(ctx, Drug{Code: "X"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, Drug{Code: "X", Name: "Drug X", Unit: "TAB", DefaultPrice: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	d, err := svc.Create(ctx, Drug{Code: "X", Name: "Drug X", Unit: "TAB", DefaultPrice: 2})
	require.NoError(t, err)
	require.True(t, d.IsActive)
}
