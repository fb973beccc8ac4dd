package requisition

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/catalog"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

type memoryRepo struct {
	reqs   map[int64]Requisition
	items  map[int64]Item
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{reqs: make(map[int64]Requisition), items: make(map[int64]Item)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Requisition, []Item, error) {
	req, ok := r.reqs[id]
	if !ok {
		return Requisition{}, nil, shared.ErrNotFound
	}
	return req, r.itemsOf(id), nil
}

func (r *memoryRepo) itemsOf(id int64) []Item {
	var items []Item
	for _, item := range r.items {
		if item.RequisitionID == id {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (r *memoryRepo) List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	var list []ListItem
	for _, req := range r.reqs {
		if filters.Status != "" && req.Status != filters.Status {
			continue
		}
		list = append(list, ListItem{ID: req.ID, Number: req.Number, Type: req.Type, Status: req.Status})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, len(list), nil
}

func (r *memoryRepo) ListByOrigin(ctx context.Context, originID int64) ([]ListItem, error) {
	var list []ListItem
	for _, req := range r.reqs {
		if req.OriginRequisitionID == originID {
			list = append(list, ListItem{ID: req.ID, Number: req.Number, Type: req.Type, Status: req.Status, OriginRequisitionID: originID})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (tx *memoryTx) nextID() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryTx) CreateRequisition(ctx context.Context, req Requisition) (int64, error) {
	id := tx.nextID()
	req.ID = id
	req.CreatedAt = time.Now()
	tx.repo.reqs[id] = req
	return id, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	id := tx.nextID()
	item.ID = id
	tx.repo.items[id] = item
	return id, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Requisition, error) {
	req, ok := tx.repo.reqs[id]
	if !ok {
		return Requisition{}, shared.ErrNotFound
	}
	return req, nil
}

func (tx *memoryTx) GetItems(ctx context.Context, id int64) ([]Item, error) {
	return tx.repo.itemsOf(id), nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status) error {
	req := tx.repo.reqs[id]
	req.Status = status
	tx.repo.reqs[id] = req
	return nil
}

func (tx *memoryTx) HasActiveFollowUp(ctx context.Context, originID int64) (bool, error) {
	for _, req := range tx.repo.reqs {
		if req.OriginRequisitionID == originID && req.Status != StatusRejected && req.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) SetApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	req := tx.repo.reqs[id]
	req.ApprovedBy = approvedBy
	req.ApprovedAt = approvedAt
	tx.repo.reqs[id] = req
	return nil
}

func (tx *memoryTx) SetRejection(ctx context.Context, id int64, rejectedBy int64, rejectedAt time.Time, reason string) error {
	req := tx.repo.reqs[id]
	req.RejectedBy = rejectedBy
	req.RejectedAt = rejectedAt
	req.RejectReason = reason
	tx.repo.reqs[id] = req
	return nil
}

func (tx *memoryTx) SetItemApprovedQty(ctx context.Context, itemID int64, qty float64) error {
	item := tx.repo.items[itemID]
	item.ApprovedQty = qty
	tx.repo.items[itemID] = item
	return nil
}

type stubCatalog struct {
	drugs map[int64]catalog.Drug
}

func (s *stubCatalog) Resolve(ctx context.Context, drugID int64) (catalog.Drug, error) {
	drug, ok := s.drugs[drugID]
	if !ok {
		return catalog.Drug{}, shared.ErrNotFound
	}
	return drug, nil
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{drugs: map[int64]catalog.Drug{
		11: {ID: 11, Code: "PARA500", Name: "Paracetamol 500mg", Unit: "TAB", DefaultPrice: 1.5, IsActive: true},
		12: {ID: 12, Code: "AMOX250", Name: "Amoxicillin 250mg", Unit: "CAP", DefaultPrice: 3.0, IsActive: true},
	}}
}

const (
	fulfillingWH = int64(1)
	requestingWH = int64(2)
)

var (
	requester = shared.Actor{ID: 100, WarehouseID: requestingWH}
	approver  = shared.Actor{ID: 200, WarehouseID: fulfillingWH}
)

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, newStubCatalog(), nil, nil, nil)
}

func createDraft(t *testing.T, svc *Service, qty float64) Requisition {
	t.Helper()
	req, err := svc.Create(context.Background(), requester, CreateInput{
		FulfillingWarehouseID: fulfillingWH,
		RequestingWarehouseID: requestingWH,
		Purpose:               "ward restock",
		Lines:                 []LineInput{{DrugID: 11, Qty: qty}},
	})
	require.NoError(t, err)
	return req
}

func TestRequisitionLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	req := createDraft(t, svc, 100)
	require.NotZero(t, req.ID)
	require.Equal(t, StatusDraft, req.Status)
	require.Equal(t, TypeRegular, req.Type)
	require.Equal(t, PriorityNormal, req.Priority)

	stored, items, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, requester.ID, stored.RequestedBy)
	require.Len(t, items, 1)
	require.Equal(t, "TAB", items[0].Unit)
	require.Equal(t, 1.5, items[0].UnitPrice)

	require.NoError(t, svc.Submit(ctx, requester, req.ID))
	stored, _, _ = repo.Get(ctx, req.ID)
	require.Equal(t, StatusSubmitted, stored.Status)

	// requesting side cannot approve its own requisition
	err = svc.Approve(ctx, requester, req.ID, ApproveInput{})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	require.NoError(t, svc.Approve(ctx, approver, req.ID, ApproveInput{Lines: []ApproveLine{{ItemID: items[0].ID, Qty: 80}}}))
	stored, items, _ = repo.Get(ctx, req.ID)
	require.Equal(t, StatusApproved, stored.Status)
	require.Equal(t, approver.ID, stored.ApprovedBy)
	require.Equal(t, 80.0, items[0].ApprovedQty)
}

func TestApproveDefaultsToRequestedQty(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	req := createDraft(t, svc, 40)
	require.NoError(t, svc.Submit(ctx, requester, req.ID))
	require.NoError(t, svc.Approve(ctx, approver, req.ID, ApproveInput{}))

	_, items, _ := repo.Get(ctx, req.ID)
	require.Equal(t, 40.0, items[0].ApprovedQty)
}

func TestApproveAboveRequestedRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	req := createDraft(t, svc, 40)
	require.NoError(t, svc.Submit(ctx, requester, req.ID))
	_, items, _ := repo.Get(ctx, req.ID)

	err := svc.Approve(ctx, approver, req.ID, ApproveInput{Lines: []ApproveLine{{ItemID: items[0].ID, Qty: 41}}})
	require.ErrorIs(t, err, shared.ErrQuantityViolation)

	stored, _, _ := repo.Get(ctx, req.ID)
	require.Equal(t, StatusSubmitted, stored.Status)
}

func TestRejectRequiresReason(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	req := createDraft(t, svc, 10)
	require.NoError(t, svc.Submit(ctx, requester, req.ID))

	err := svc.Reject(ctx, approver, req.ID, "   ")
	require.ErrorIs(t, err, shared.ErrValidation)
	stored, _, _ := repo.Get(ctx, req.ID)
	require.Equal(t, StatusSubmitted, stored.Status)

	require.NoError(t, svc.Reject(ctx, approver, req.ID, "stock frozen for audit"))
	stored, _, _ = repo.Get(ctx, req.ID)
	require.Equal(t, StatusRejected, stored.Status)
	require.Equal(t, "stock frozen for audit", stored.RejectReason)
}

func TestCancelOnlyBeforeApproval(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	req := createDraft(t, svc, 10)
	require.NoError(t, svc.Submit(ctx, requester, req.ID))
	require.NoError(t, svc.Approve(ctx, approver, req.ID, ApproveInput{}))

	err := svc.Cancel(ctx, requester, req.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	other := createDraft(t, svc, 5)
	require.NoError(t, svc.Cancel(ctx, requester, other.ID))
	stored, _, _ := repo.Get(ctx, other.ID)
	require.Equal(t, StatusCancelled, stored.Status)
}

func TestCreateValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, requester, CreateInput{
		FulfillingWarehouseID: fulfillingWH,
		RequestingWarehouseID: requestingWH,
		Lines:                 []LineInput{{DrugID: 999, Qty: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, requester, CreateInput{
		FulfillingWarehouseID: requestingWH,
		RequestingWarehouseID: requestingWH,
		Lines:                 []LineInput{{DrugID: 11, Qty: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// author must sit on the requesting side
	_, err = svc.Create(ctx, approver, CreateInput{
		FulfillingWarehouseID: fulfillingWH,
		RequestingWarehouseID: requestingWH,
		Lines:                 []LineInput{{DrugID: 11, Qty: 1}},
	})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestCreateShortfall(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	origin := createDraft(t, svc, 100)

	follow, err := svc.CreateShortfall(ctx, ShortfallInput{
		Origin:      origin,
		RequestedBy: requester.ID,
		Lines:       []LineInput{{DrugID: 11, Unit: "TAB", Qty: 20, UnitPrice: 1.5}},
	})
	require.NoError(t, err)
	require.Equal(t, TypeEmergency, follow.Type)
	require.Equal(t, PriorityHigh, follow.Priority)
	require.Equal(t, StatusSubmitted, follow.Status)
	require.Equal(t, origin.ID, follow.OriginRequisitionID)
	require.Equal(t, origin.FulfillingWarehouseID, follow.FulfillingWarehouseID)
	require.Equal(t, origin.RequestingWarehouseID, follow.RequestingWarehouseID)

	ancestors, children, err := svc.Trace(ctx, follow.ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	require.Equal(t, follow.ID, ancestors[0].ID)
	require.Equal(t, origin.ID, ancestors[1].ID)
	require.Empty(t, children)

	_, children, err = svc.Trace(ctx, origin.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, follow.ID, children[0].ID)
}

func TestCreateShortfallOncePerOrigin(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	origin := createDraft(t, svc, 100)
	input := ShortfallInput{
		Origin:      origin,
		RequestedBy: requester.ID,
		Lines:       []LineInput{{DrugID: 11, Unit: "TAB", Qty: 20, UnitPrice: 1.5}},
	}

	_, err := svc.CreateShortfall(ctx, input)
	require.NoError(t, err)

	_, err = svc.CreateShortfall(ctx, input)
	require.ErrorIs(t, err, shared.ErrConflict)

	children, err := repo.ListByOrigin(ctx, origin.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
}
