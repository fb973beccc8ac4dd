package receiving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shipment"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/stockledger"
)

const qtyEpsilon = 1e-9

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateSession(ctx context.Context, s Session) (int64, error)
	GetSession(ctx context.Context, id int64) (Session, []Item, error)
	FindOpenByOperator(ctx context.Context, operator int64) (Session, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	DeleteItem(ctx context.Context, sessionID, itemID int64) error
	GetRequisition(ctx context.Context, id int64) (requisition.Requisition, error)
	GetRequisitionItem(ctx context.Context, id int64) (requisition.Item, error)
	AbandonStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// LedgerPort posts accepted quantity to the stock ledger.
type LedgerPort interface {
	PostReceive(ctx context.Context, input stockledger.ReceiveInput) (stockledger.Movement, error)
}

// ShortfallPort spawns the follow-up requisition at close-out.
type ShortfallPort interface {
	CreateShortfall(ctx context.Context, input requisition.ShortfallInput) (requisition.Requisition, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns receiving sessions and the completion reconciliation.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	shortfall   ShortfallPort
	idempotency *shared.IdempotencyStore
	audit       AuditPort
	notifier    Notifier
}

// NewService constructs the receiving service.
func NewService(repo RepositoryPort, ledger LedgerPort, shortfall ShortfallPort, idem *shared.IdempotencyStore, audit AuditPort, notifier Notifier) *Service {
	return &Service{repo: repo, ledger: ledger, shortfall: shortfall, idempotency: idem, audit: audit, notifier: notifier}
}

// OpenSession opens an empty session owned by the operator. One open
// session per operator: a second open attempt conflicts instead of silently
// forking the working set.
func (s *Service) OpenSession(ctx context.Context, actor shared.Actor, notes string) (Session, error) {
	if existing, err := s.repo.FindOpenByOperator(ctx, actor.ID); err == nil {
		return Session{}, fmt.Errorf("%w: operator already has open session %d", shared.ErrConflict, existing.ID)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Session{}, err
	}
	session := Session{WarehouseID: actor.WarehouseID, Operator: actor.ID, Status: SessionOpen, Notes: notes}
	id, err := s.repo.CreateSession(ctx, session)
	if err != nil {
		return Session{}, err
	}
	session.ID = id
	session.OpenedAt = time.Now()
	return session, nil
}

// ItemInput describes one physically received line.
type ItemInput struct {
	RequisitionID     int64
	RequisitionItemID int64
	Qty               float64
	Lot               string
	Expiry            time.Time
	Manufacturer      string
	Condition         stockledger.Condition
	Notes             string
}

// AddItem accumulates a receipt line into an open session. Pure in-session
// accumulation: no requisition or ledger state changes until completion.
func (s *Service) AddItem(ctx context.Context, actor shared.Actor, sessionID int64, input ItemInput) (Item, error) {
	if input.Qty <= 0 {
		return Item{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	condition := input.Condition
	if condition == "" {
		condition = stockledger.ConditionGood
	}
	switch condition {
	case stockledger.ConditionGood, stockledger.ConditionDamaged, stockledger.ConditionExpired:
	default:
		return Item{}, fmt.Errorf("%w: unknown condition %q", shared.ErrValidation, condition)
	}
	session, _, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Item{}, err
	}
	if session.Operator != actor.ID {
		return Item{}, fmt.Errorf("%w: session %d belongs to another operator", shared.ErrPermissionDenied, sessionID)
	}
	if session.Status != SessionOpen {
		return Item{}, fmt.Errorf("%w: add item to %s session", shared.ErrInvalidTransition, session.Status)
	}
	req, err := s.repo.GetRequisition(ctx, input.RequisitionID)
	if err != nil {
		return Item{}, err
	}
	if err := requisition.Check(req, requisition.ActionReceive, actor.WarehouseID); err != nil {
		return Item{}, err
	}
	reqItem, err := s.repo.GetRequisitionItem(ctx, input.RequisitionItemID)
	if err != nil {
		return Item{}, err
	}
	if reqItem.RequisitionID != req.ID {
		return Item{}, fmt.Errorf("%w: line %d does not belong to requisition %d", shared.ErrValidation, reqItem.ID, req.ID)
	}
	item := Item{
		SessionID:         sessionID,
		RequisitionID:     req.ID,
		RequisitionItemID: reqItem.ID,
		DrugID:            reqItem.DrugID,
		Qty:               input.Qty,
		Lot:               input.Lot,
		Expiry:            input.Expiry,
		Manufacturer:      input.Manufacturer,
		Condition:         condition,
		Notes:             input.Notes,
	}
	id, err := s.repo.InsertItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	item.ID = id
	item.AddedAt = time.Now()
	return item, nil
}

// RemoveItem drops an accumulated line from an open session.
func (s *Service) RemoveItem(ctx context.Context, actor shared.Actor, sessionID, itemID int64) error {
	session, _, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Operator != actor.ID {
		return fmt.Errorf("%w: session %d belongs to another operator", shared.ErrPermissionDenied, sessionID)
	}
	if session.Status != SessionOpen {
		return fmt.Errorf("%w: remove item from %s session", shared.ErrInvalidTransition, session.Status)
	}
	return s.repo.DeleteItem(ctx, sessionID, itemID)
}

// Get returns a session and its accumulated items.
func (s *Service) Get(ctx context.Context, id int64) (Session, []Item, error) {
	return s.repo.GetSession(ctx, id)
}

// Abandon discards an open session without applying anything.
func (s *Service) Abandon(ctx context.Context, actor shared.Actor, sessionID int64) error {
	now := time.Now()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Operator != actor.ID {
			return fmt.Errorf("%w: session %d belongs to another operator", shared.ErrPermissionDenied, sessionID)
		}
		if session.Status != SessionOpen {
			return fmt.Errorf("%w: abandon %s session", shared.ErrInvalidTransition, session.Status)
		}
		return tx.UpdateSessionStatus(ctx, sessionID, SessionAbandoned, now)
	})
}

// Complete applies every accumulated item atomically. Per item the current
// pending quantity (delivered minus received) is recomputed under lock and
// any excess is rejected outright, so racing sessions can never push a
// line's received quantity above its delivered quantity. After posting, the
// parent requisition is evaluated for close-out: fully received documents
// close RECEIVED; exhausted but short documents close PARTIALLY_RECEIVED
// and spawn the shortfall follow-up.
func (s *Service) Complete(ctx context.Context, actor shared.Actor, sessionID int64) error {
	key := fmt.Sprintf("receiving:complete:%d", sessionID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "receiving"); err != nil {
			return err
		}
		insertedKey = true
	}
	now := time.Now()
	var evt CompletedEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Operator != actor.ID {
			return fmt.Errorf("%w: session %d belongs to another operator", shared.ErrPermissionDenied, sessionID)
		}
		if session.Status != SessionOpen {
			return fmt.Errorf("%w: complete %s session", shared.ErrInvalidTransition, session.Status)
		}
		items, err := tx.GetSessionItems(ctx, sessionID)
		if err != nil {
			return err
		}

		reqs := make(map[int64]requisition.Requisition)
		var order []int64
		for _, item := range items {
			req, ok := reqs[item.RequisitionID]
			if !ok {
				req, err = tx.GetRequisitionForUpdate(ctx, item.RequisitionID)
				if err != nil {
					return err
				}
				if err := requisition.Check(req, requisition.ActionReceive, actor.WarehouseID); err != nil {
					return err
				}
				reqs[item.RequisitionID] = req
				order = append(order, item.RequisitionID)
			}
			reqItem, err := tx.GetRequisitionItemForUpdate(ctx, item.RequisitionItemID)
			if err != nil {
				return err
			}
			pending := reqItem.DeliveredQty - reqItem.ReceivedQty
			if item.Qty > pending+qtyEpsilon {
				return fmt.Errorf("%w: receiving %g exceeds pending %g for drug %d",
					shared.ErrQuantityViolation, item.Qty, pending, reqItem.DrugID)
			}
			if err := tx.AddReceivedQty(ctx, reqItem.ID, item.Qty); err != nil {
				return err
			}
			if err := s.postLedger(ctx, actor, req, reqItem, item); err != nil {
				return err
			}
		}

		for _, reqID := range order {
			if err := s.closeOut(ctx, tx, actor, reqs[reqID]); err != nil {
				return err
			}
		}
		if err := tx.UpdateSessionStatus(ctx, sessionID, SessionCompleted, now); err != nil {
			return err
		}
		evt = CompletedEvent{SessionID: sessionID, WarehouseID: session.WarehouseID, Operator: session.Operator, ItemCount: len(items), RequisitionIDs: order, At: now}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return err
	}
	s.recordAudit(ctx, actor.ID, "RECEIVING_COMPLETE", sessionID, map[string]any{"items": evt.ItemCount})
	if s.notifier != nil {
		_ = s.notifier.NotifyReceivingCompleted(ctx, evt)
	}
	return nil
}

// postLedger posts one accepted item. A replayed ref key means the movement
// already landed in a previous attempt; the posting is skipped, not failed.
func (s *Service) postLedger(ctx context.Context, actor shared.Actor, req requisition.Requisition, reqItem requisition.Item, item Item) error {
	if s.ledger == nil {
		return nil
	}
	_, err := s.ledger.PostReceive(ctx, stockledger.ReceiveInput{
		WarehouseID: req.RequestingWarehouseID,
		DrugID:      item.DrugID,
		Lot:         item.Lot,
		Expiry:      item.Expiry,
		Condition:   item.Condition,
		Qty:         item.Qty,
		UnitCost:    reqItem.UnitPrice,
		RefModule:   "receiving",
		RefKey:      fmt.Sprintf("%d:%d", item.SessionID, item.ID),
		ActorID:     actor.ID,
		Note:        fmt.Sprintf("receipt against %s", req.Number),
	})
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return nil
	}
	return err
}

// closeOut re-reads the requisition's lines after posting and decides the
// final status. RECEIVED requires every line received in full against its
// approved quantity; a document whose delivery notes are exhausted while a
// line is still short closes PARTIALLY_RECEIVED and spawns the follow-up.
func (s *Service) closeOut(ctx context.Context, tx TxRepository, actor shared.Actor, req requisition.Requisition) error {
	items, err := tx.GetRequisitionItems(ctx, req.ID)
	if err != nil {
		return err
	}
	allReceived := true
	exhausted := true
	var shortLines []requisition.LineInput
	for _, item := range items {
		if item.ReceivedQty < item.ApprovedQty-qtyEpsilon {
			allReceived = false
			shortLines = append(shortLines, requisition.LineInput{
				DrugID:    item.DrugID,
				Unit:      item.Unit,
				Qty:       item.ApprovedQty - item.ReceivedQty,
				UnitPrice: item.UnitPrice,
			})
		}
		if item.DeliveredQty < item.ApprovedQty-qtyEpsilon {
			exhausted = false
		}
	}
	switch {
	case allReceived:
		if err := tx.UpdateRequisitionStatus(ctx, req.ID, requisition.StatusReceived); err != nil {
			return err
		}
		return tx.SetDeliveredNotesStatus(ctx, req.ID, shipment.NoteReceived)
	case exhausted:
		if err := tx.UpdateRequisitionStatus(ctx, req.ID, requisition.StatusPartiallyReceived); err != nil {
			return err
		}
		if err := tx.SetDeliveredNotesStatus(ctx, req.ID, shipment.NotePartiallyReceived); err != nil {
			return err
		}
		if s.shortfall != nil {
			_, err := s.shortfall.CreateShortfall(ctx, requisition.ShortfallInput{
				Origin:      req,
				RequestedBy: actor.ID,
				Lines:       shortLines,
			})
			// The follow-up commits in its own transaction. If this
			// completion aborts afterwards and is retried, the generator
			// reports the existing document as a conflict; the close-out
			// carries on rather than spawning a second one.
			if err != nil && !errors.Is(err, shared.ErrConflict) {
				return err
			}
		}
		return nil
	default:
		// More shipments expected; the document stays where the carrier
		// signals left it.
		return nil
	}
}

// SweepStale abandons open sessions older than the given age. Run from the
// scheduler so crashed operators do not strand sessions forever.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.AbandonStale(ctx, time.Now().Add(-olderThan))
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "receiving_session", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
