package receiving

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shipment"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/stockledger"
)

type memoryRepo struct {
	sessions   map[int64]Session
	items      map[int64]Item
	reqs       map[int64]requisition.Requisition
	reqItems   map[int64]requisition.Item
	noteStatus map[int64]shipment.NoteStatus
	noteReq    map[int64]int64
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sessions:   make(map[int64]Session),
		items:      make(map[int64]Item),
		reqs:       make(map[int64]requisition.Requisition),
		reqItems:   make(map[int64]requisition.Item),
		noteStatus: make(map[int64]shipment.NoteStatus),
		noteReq:    make(map[int64]int64),
	}
}

func (r *memoryRepo) snapshot() *memoryRepo {
	clone := newMemoryRepo()
	clone.nextID = r.nextID
	for k, v := range r.sessions {
		clone.sessions[k] = v
	}
	for k, v := range r.items {
		clone.items[k] = v
	}
	for k, v := range r.reqs {
		clone.reqs[k] = v
	}
	for k, v := range r.reqItems {
		clone.reqItems[k] = v
	}
	for k, v := range r.noteStatus {
		clone.noteStatus[k] = v
	}
	for k, v := range r.noteReq {
		clone.noteReq[k] = v
	}
	return clone
}

// WithTx restores the pre-transaction state when the callback fails, so the
// all-or-nothing completion semantics hold in tests.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.snapshot()
	if err := fn(ctx, r); err != nil {
		*r = *before
		return err
	}
	return nil
}

func (r *memoryRepo) CreateSession(ctx context.Context, s Session) (int64, error) {
	r.nextID++
	s.ID = r.nextID
	s.OpenedAt = time.Now()
	r.sessions[s.ID] = s
	return s.ID, nil
}

func (r *memoryRepo) GetSession(ctx context.Context, id int64) (Session, []Item, error) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, nil, shared.ErrNotFound
	}
	items, _ := r.GetSessionItems(ctx, id)
	return s, items, nil
}

func (r *memoryRepo) FindOpenByOperator(ctx context.Context, operator int64) (Session, error) {
	for _, s := range r.sessions {
		if s.Operator == operator && s.Status == SessionOpen {
			return s, nil
		}
	}
	return Session{}, shared.ErrNotFound
}

func (r *memoryRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	r.nextID++
	item.ID = r.nextID
	item.AddedAt = time.Now()
	r.items[item.ID] = item
	return item.ID, nil
}

func (r *memoryRepo) DeleteItem(ctx context.Context, sessionID, itemID int64) error {
	item, ok := r.items[itemID]
	if !ok || item.SessionID != sessionID {
		return shared.ErrNotFound
	}
	delete(r.items, itemID)
	return nil
}

func (r *memoryRepo) GetRequisition(ctx context.Context, id int64) (requisition.Requisition, error) {
	req, ok := r.reqs[id]
	if !ok {
		return requisition.Requisition{}, shared.ErrNotFound
	}
	return req, nil
}

func (r *memoryRepo) GetRequisitionItem(ctx context.Context, id int64) (requisition.Item, error) {
	item, ok := r.reqItems[id]
	if !ok {
		return requisition.Item{}, shared.ErrNotFound
	}
	return item, nil
}

func (r *memoryRepo) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, s := range r.sessions {
		if s.Status == SessionOpen && s.OpenedAt.Before(cutoff) {
			s.Status = SessionAbandoned
			s.ClosedAt = time.Now()
			r.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) GetSessionForUpdate(ctx context.Context, id int64) (Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, shared.ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) GetSessionItems(ctx context.Context, sessionID int64) ([]Item, error) {
	var items []Item
	for _, item := range r.items {
		if item.SessionID == sessionID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *memoryRepo) UpdateSessionStatus(ctx context.Context, id int64, status SessionStatus, closedAt time.Time) error {
	s := r.sessions[id]
	s.Status = status
	s.ClosedAt = closedAt
	r.sessions[id] = s
	return nil
}

func (r *memoryRepo) GetRequisitionForUpdate(ctx context.Context, id int64) (requisition.Requisition, error) {
	return r.GetRequisition(ctx, id)
}

func (r *memoryRepo) GetRequisitionItemForUpdate(ctx context.Context, id int64) (requisition.Item, error) {
	return r.GetRequisitionItem(ctx, id)
}

func (r *memoryRepo) GetRequisitionItems(ctx context.Context, requisitionID int64) ([]requisition.Item, error) {
	var items []requisition.Item
	for _, item := range r.reqItems {
		if item.RequisitionID == requisitionID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *memoryRepo) AddReceivedQty(ctx context.Context, itemID int64, qty float64) error {
	item := r.reqItems[itemID]
	item.ReceivedQty += qty
	r.reqItems[itemID] = item
	return nil
}

func (r *memoryRepo) UpdateRequisitionStatus(ctx context.Context, id int64, status requisition.Status) error {
	req := r.reqs[id]
	req.Status = status
	r.reqs[id] = req
	return nil
}

func (r *memoryRepo) SetDeliveredNotesStatus(ctx context.Context, requisitionID int64, status shipment.NoteStatus) error {
	for noteID, reqID := range r.noteReq {
		if reqID == requisitionID && r.noteStatus[noteID] == shipment.NoteDelivered {
			r.noteStatus[noteID] = status
		}
	}
	return nil
}

type stubLedger struct {
	posts    []stockledger.ReceiveInput
	seen     map[string]bool
	failNext bool
}

func newStubLedger() *stubLedger {
	return &stubLedger{seen: make(map[string]bool)}
}

func (l *stubLedger) PostReceive(ctx context.Context, input stockledger.ReceiveInput) (stockledger.Movement, error) {
	if l.failNext {
		l.failNext = false
		return stockledger.Movement{}, errors.New("ledger unavailable")
	}
	if l.seen[input.RefKey] {
		return stockledger.Movement{}, shared.ErrIdempotencyConflict
	}
	l.seen[input.RefKey] = true
	l.posts = append(l.posts, input)
	return stockledger.Movement{DrugID: input.DrugID, Qty: input.Qty}, nil
}

// stubShortfall mirrors the generator's per-origin guarantee: a second
// request for the same origin reports the existing follow-up as a conflict.
type stubShortfall struct {
	inputs  []requisition.ShortfallInput
	origins map[int64]bool
}

func (s *stubShortfall) CreateShortfall(ctx context.Context, input requisition.ShortfallInput) (requisition.Requisition, error) {
	if s.origins == nil {
		s.origins = make(map[int64]bool)
	}
	if s.origins[input.Origin.ID] {
		return requisition.Requisition{}, fmt.Errorf("%w: follow-up for %s already exists", shared.ErrConflict, input.Origin.Number)
	}
	s.origins[input.Origin.ID] = true
	s.inputs = append(s.inputs, input)
	return requisition.Requisition{ID: 9000 + int64(len(s.inputs)), Type: requisition.TypeEmergency}, nil
}

// flakyRepo fails the session-status write a fixed number of times, aborting
// the completion transaction after the close-out has already run.
type flakyRepo struct {
	*memoryRepo
	failCloses int
}

func (r *flakyRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.memoryRepo.snapshot()
	if err := fn(ctx, &flakyTx{TxRepository: r.memoryRepo, repo: r}); err != nil {
		*r.memoryRepo = *before
		return err
	}
	return nil
}

type flakyTx struct {
	TxRepository
	repo *flakyRepo
}

func (t *flakyTx) UpdateSessionStatus(ctx context.Context, id int64, status SessionStatus, closedAt time.Time) error {
	if t.repo.failCloses > 0 {
		t.repo.failCloses--
		return errors.New("serialization failure")
	}
	return t.TxRepository.UpdateSessionStatus(ctx, id, status, closedAt)
}

const (
	fulfillingWH = int64(1)
	requestingWH = int64(2)
)

var receiver = shared.Actor{ID: 300, WarehouseID: requestingWH}

type fixture struct {
	repo      *memoryRepo
	ledger    *stubLedger
	shortfall *stubShortfall
	svc       *Service
}

func newFixture() *fixture {
	repo := newMemoryRepo()
	ledger := newStubLedger()
	shortfall := &stubShortfall{}
	return &fixture{
		repo:      repo,
		ledger:    ledger,
		shortfall: shortfall,
		svc:       NewService(repo, ledger, shortfall, nil, nil, nil),
	}
}

// seedRequisition creates a DELIVERED requisition with one line and one
// delivered note. Returns requisition and line ids.
func (f *fixture) seedRequisition(approved, delivered float64) (int64, int64) {
	f.repo.nextID++
	reqID := f.repo.nextID
	f.repo.reqs[reqID] = requisition.Requisition{
		ID: reqID, Number: "RQ-1", Status: requisition.StatusDelivered,
		FulfillingWarehouseID: fulfillingWH, RequestingWarehouseID: requestingWH,
	}
	f.repo.nextID++
	itemID := f.repo.nextID
	f.repo.reqItems[itemID] = requisition.Item{
		ID: itemID, RequisitionID: reqID, DrugID: 11, Unit: "TAB",
		RequestedQty: approved, ApprovedQty: approved, DeliveredQty: delivered, UnitPrice: 1.5,
	}
	f.repo.nextID++
	noteID := f.repo.nextID
	f.repo.noteReq[noteID] = reqID
	f.repo.noteStatus[noteID] = shipment.NoteDelivered
	return reqID, itemID
}

func (f *fixture) openWithItem(t *testing.T, reqID, itemID int64, qty float64) Session {
	t.Helper()
	session, err := f.svc.OpenSession(context.Background(), receiver, "")
	require.NoError(t, err)
	_, err = f.svc.AddItem(context.Background(), receiver, session.ID, ItemInput{
		RequisitionID: reqID, RequisitionItemID: itemID, Qty: qty, Lot: "LOT-A",
	})
	require.NoError(t, err)
	return session
}

func TestCompleteShortDeliveryClosesPartial(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	// approved 100, carrier only ever shipped 80
	reqID, itemID := f.seedRequisition(100, 80)
	session := f.openWithItem(t, reqID, itemID, 80)

	require.NoError(t, f.svc.Complete(ctx, receiver, session.ID))

	require.Equal(t, requisition.StatusPartiallyReceived, f.repo.reqs[reqID].Status)
	require.Equal(t, 80.0, f.repo.reqItems[itemID].ReceivedQty)
	require.Equal(t, SessionCompleted, f.repo.sessions[session.ID].Status)

	require.Len(t, f.shortfall.inputs, 1)
	short := f.shortfall.inputs[0]
	require.Equal(t, reqID, short.Origin.ID)
	require.Len(t, short.Lines, 1)
	require.Equal(t, 20.0, short.Lines[0].Qty)
	require.Equal(t, int64(11), short.Lines[0].DrugID)

	require.Len(t, f.ledger.posts, 1)
	require.Equal(t, requestingWH, f.ledger.posts[0].WarehouseID)
	require.Equal(t, 80.0, f.ledger.posts[0].Qty)

	for noteID := range f.repo.noteReq {
		require.Equal(t, shipment.NotePartiallyReceived, f.repo.noteStatus[noteID])
	}
}

func TestCompleteLostInTransitClosesPartial(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	// carrier declared the full 100 delivered, only 80 arrived intact
	reqID, itemID := f.seedRequisition(100, 100)
	session := f.openWithItem(t, reqID, itemID, 80)

	require.NoError(t, f.svc.Complete(ctx, receiver, session.ID))

	require.Equal(t, requisition.StatusPartiallyReceived, f.repo.reqs[reqID].Status)
	require.Equal(t, 80.0, f.repo.reqItems[itemID].ReceivedQty)
	require.Equal(t, SessionCompleted, f.repo.sessions[session.ID].Status)

	require.Len(t, f.shortfall.inputs, 1)
	short := f.shortfall.inputs[0]
	require.Equal(t, reqID, short.Origin.ID)
	require.Len(t, short.Lines, 1)
	require.Equal(t, 20.0, short.Lines[0].Qty)
	require.Equal(t, int64(11), short.Lines[0].DrugID)
}

func TestCompleteRetryAfterAbortSpawnsOneShortfall(t *testing.T) {
	f := newFixture()
	flaky := &flakyRepo{memoryRepo: f.repo, failCloses: 1}
	f.svc = NewService(flaky, f.ledger, f.shortfall, nil, nil, nil)
	ctx := context.Background()

	reqID, itemID := f.seedRequisition(100, 100)
	session := f.openWithItem(t, reqID, itemID, 80)

	// First attempt aborts after the close-out ran. Everything inside the
	// transaction rolls back; the follow-up already committed on its own.
	require.Error(t, f.svc.Complete(ctx, receiver, session.ID))
	require.Equal(t, SessionOpen, f.repo.sessions[session.ID].Status)
	require.Equal(t, requisition.StatusDelivered, f.repo.reqs[reqID].Status)
	require.Len(t, f.shortfall.inputs, 1)

	// Retry converges: the document closes partial against the same single
	// follow-up, and the ledger movement is not double-posted.
	require.NoError(t, f.svc.Complete(ctx, receiver, session.ID))
	require.Equal(t, SessionCompleted, f.repo.sessions[session.ID].Status)
	require.Equal(t, requisition.StatusPartiallyReceived, f.repo.reqs[reqID].Status)
	require.Len(t, f.shortfall.inputs, 1)
	require.Len(t, f.ledger.posts, 1)
}

func TestCompleteSequentialShipmentsCloseReceived(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	// approved 50, first shipment delivers 30
	reqID, itemID := f.seedRequisition(50, 30)

	first := f.openWithItem(t, reqID, itemID, 30)
	require.NoError(t, f.svc.Complete(ctx, receiver, first.ID))

	// delivered equals received but approved is not exhausted: stays open
	require.Equal(t, requisition.StatusDelivered, f.repo.reqs[reqID].Status)
	require.Empty(t, f.shortfall.inputs)

	// second shipment delivers the remaining 20
	item := f.repo.reqItems[itemID]
	item.DeliveredQty = 50
	f.repo.reqItems[itemID] = item

	second := f.openWithItem(t, reqID, itemID, 20)
	require.NoError(t, f.svc.Complete(ctx, receiver, second.ID))

	require.Equal(t, requisition.StatusReceived, f.repo.reqs[reqID].Status)
	require.Equal(t, 50.0, f.repo.reqItems[itemID].ReceivedQty)
	require.Empty(t, f.shortfall.inputs)
	require.Len(t, f.ledger.posts, 2)

	for noteID := range f.repo.noteReq {
		require.Equal(t, shipment.NoteReceived, f.repo.noteStatus[noteID])
	}
}

func TestCompleteRecomputesPendingUnderRacingSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	// approved 30 but only 20 delivered so far; the document stays open
	// after the first session and the bound alone gates the second
	reqID, itemID := f.seedRequisition(30, 20)

	first := f.openWithItem(t, reqID, itemID, 15)

	other := shared.Actor{ID: 301, WarehouseID: requestingWH}
	secondSession, err := f.svc.OpenSession(ctx, other, "")
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, other, secondSession.ID, ItemInput{
		RequisitionID: reqID, RequisitionItemID: itemID, Qty: 15,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Complete(ctx, receiver, first.ID))
	require.Equal(t, 15.0, f.repo.reqItems[itemID].ReceivedQty)

	// pending shrank to 5 while the second session held 15
	err = f.svc.Complete(ctx, other, secondSession.ID)
	require.ErrorIs(t, err, shared.ErrQuantityViolation)
	require.Equal(t, 15.0, f.repo.reqItems[itemID].ReceivedQty)
	require.Equal(t, SessionOpen, f.repo.sessions[secondSession.ID].Status)
}

func TestCompleteTwiceRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	reqID, itemID := f.seedRequisition(10, 10)
	session := f.openWithItem(t, reqID, itemID, 10)

	require.NoError(t, f.svc.Complete(ctx, receiver, session.ID))
	err := f.svc.Complete(ctx, receiver, session.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, 10.0, f.repo.reqItems[itemID].ReceivedQty)
	require.Len(t, f.ledger.posts, 1)
}

func TestCompleteRollsBackWhenLedgerFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	reqID, itemID := f.seedRequisition(10, 10)
	session := f.openWithItem(t, reqID, itemID, 10)

	f.ledger.failNext = true
	err := f.svc.Complete(ctx, receiver, session.ID)
	require.Error(t, err)

	// nothing applied: quantities, status and session all unchanged
	require.Equal(t, 0.0, f.repo.reqItems[itemID].ReceivedQty)
	require.Equal(t, requisition.StatusDelivered, f.repo.reqs[reqID].Status)
	require.Equal(t, SessionOpen, f.repo.sessions[session.ID].Status)

	// retry succeeds
	require.NoError(t, f.svc.Complete(ctx, receiver, session.ID))
	require.Equal(t, requisition.StatusReceived, f.repo.reqs[reqID].Status)
}

func TestCompleteSkipsAlreadyPostedMovements(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	reqID, itemID := f.seedRequisition(10, 10)
	session := f.openWithItem(t, reqID, itemID, 10)

	items, err := f.repo.GetSessionItems(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// the movement landed in a crashed earlier attempt
	f.ledger.seen[fmt.Sprintf("%d:%d", session.ID, items[0].ID)] = true

	require.NoError(t, f.svc.Complete(ctx, receiver, session.ID))
	require.Empty(t, f.ledger.posts)
	require.Equal(t, requisition.StatusReceived, f.repo.reqs[reqID].Status)
}

func TestOpenSessionSingleOpenPerOperator(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.OpenSession(ctx, receiver, "night shift")
	require.NoError(t, err)

	_, err = f.svc.OpenSession(ctx, receiver, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, f.svc.Abandon(ctx, receiver, first.ID))
	require.Equal(t, SessionAbandoned, f.repo.sessions[first.ID].Status)

	_, err = f.svc.OpenSession(ctx, receiver, "")
	require.NoError(t, err)
}

func TestAddItemValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	reqID, itemID := f.seedRequisition(10, 10)

	session, err := f.svc.OpenSession(ctx, receiver, "")
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, receiver, session.ID, ItemInput{RequisitionID: reqID, RequisitionItemID: itemID, Qty: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.AddItem(ctx, receiver, session.ID, ItemInput{RequisitionID: reqID, RequisitionItemID: itemID, Qty: 5, Condition: "SOGGY"})
	require.ErrorIs(t, err, shared.ErrValidation)

	// fulfilling side cannot receive
	wrongSide := shared.Actor{ID: 400, WarehouseID: fulfillingWH}
	otherSession, err := f.svc.OpenSession(ctx, wrongSide, "")
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, wrongSide, otherSession.ID, ItemInput{RequisitionID: reqID, RequisitionItemID: itemID, Qty: 5})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	// another operator's session
	_, err = f.svc.AddItem(ctx, wrongSide, session.ID, ItemInput{RequisitionID: reqID, RequisitionItemID: itemID, Qty: 5})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	item, err := f.svc.AddItem(ctx, receiver, session.ID, ItemInput{RequisitionID: reqID, RequisitionItemID: itemID, Qty: 5, Lot: "LOT-B"})
	require.NoError(t, err)
	require.Equal(t, stockledger.ConditionGood, item.Condition)

	require.NoError(t, f.svc.RemoveItem(ctx, receiver, session.ID, item.ID))
	_, items, err := f.svc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestSweepStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	session, err := f.svc.OpenSession(ctx, receiver, "")
	require.NoError(t, err)
	stale := f.repo.sessions[session.ID]
	stale.OpenedAt = time.Now().Add(-24 * time.Hour)
	f.repo.sessions[session.ID] = stale

	n, err := f.svc.SweepStale(ctx, 12*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, SessionAbandoned, f.repo.sessions[session.ID].Status)
}
