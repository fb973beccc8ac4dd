package shipment

import (
	"context"
	"fmt"
	"time"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

const qtyEpsilon = 1e-9

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetNote(ctx context.Context, id int64) (DeliveryNote, []Line, error)
	ListByRequisition(ctx context.Context, requisitionID int64) ([]DeliveryNote, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages delivery note creation and carrier signals.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier Notifier
}

// NewService constructs the shipment service.
func NewService(repo RepositoryPort, audit AuditPort, notifier Notifier) *Service {
	return &Service{repo: repo, audit: audit, notifier: notifier}
}

// NoteLineInput declares the shipped quantity for one requisition item.
type NoteLineInput struct {
	RequisitionItemID int64
	Qty               float64
}

// CreateInput describes a delivery note creation payload.
type CreateInput struct {
	RequisitionID int64
	Carrier       string
	Notes         string
	Lines         []NoteLineInput
}

// Create ships part or all of an approved requisition. Each line quantity
// accumulates into the parent item's delivered quantity; a line that would
// push delivered above approved aborts the whole note.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (DeliveryNote, error) {
	if len(input.Lines) == 0 {
		return DeliveryNote{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	qtyByItem := make(map[int64]float64, len(input.Lines))
	for _, line := range input.Lines {
		if line.RequisitionItemID == 0 || line.Qty <= 0 {
			return DeliveryNote{}, fmt.Errorf("%w: item and positive quantity required", shared.ErrValidation)
		}
		qtyByItem[line.RequisitionItemID] += line.Qty
	}
	note := DeliveryNote{
		Number:        fmt.Sprintf("DN-%d", time.Now().UnixNano()),
		RequisitionID: input.RequisitionID,
		Status:        NotePrepared,
		PreparedBy:    actor.ID,
		Carrier:       input.Carrier,
		Notes:         input.Notes,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequisitionForUpdate(ctx, input.RequisitionID)
		if err != nil {
			return err
		}
		if err := requisition.Check(req, requisition.ActionCreateDeliveryNote, actor.WarehouseID); err != nil {
			return err
		}
		items, err := tx.GetRequisitionItems(ctx, input.RequisitionID)
		if err != nil {
			return err
		}
		byID := make(map[int64]requisition.Item, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}
		for itemID, qty := range qtyByItem {
			item, ok := byID[itemID]
			if !ok {
				return fmt.Errorf("%w: unknown line %d", shared.ErrValidation, itemID)
			}
			if item.DeliveredQty+qty > item.ApprovedQty+qtyEpsilon {
				return fmt.Errorf("%w: delivering %g exceeds approved %g for drug %d",
					shared.ErrQuantityViolation, item.DeliveredQty+qty, item.ApprovedQty, item.DrugID)
			}
		}
		id, err := tx.CreateNote(ctx, note)
		if err != nil {
			return err
		}
		note.ID = id
		for _, line := range input.Lines {
			item := byID[line.RequisitionItemID]
			if err := tx.InsertLine(ctx, Line{DeliveryNoteID: id, RequisitionItemID: item.ID, DrugID: item.DrugID, Qty: line.Qty}); err != nil {
				return err
			}
		}
		for itemID, qty := range qtyByItem {
			if err := tx.AddDeliveredQty(ctx, itemID, qty); err != nil {
				return err
			}
		}
		if req.Status == requisition.StatusApproved {
			if err := tx.UpdateRequisitionStatus(ctx, req.ID, requisition.StatusPreparing); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return DeliveryNote{}, err
	}
	s.recordAudit(ctx, actor.ID, "DELIVERY_NOTE_CREATE", note.ID, map[string]any{"number": note.Number, "requisition_id": note.RequisitionID})
	s.emit(ctx, NoteEvent{DeliveryNoteID: note.ID, Number: note.Number, RequisitionID: note.RequisitionID, ActorID: actor.ID, ToStatus: NotePrepared, At: time.Now()})
	return note, nil
}

// MarkInTransit records the carrier dispatch signal on a PREPARED note. The
// parent requisition advances to IN_TRANSIT only from PREPARING; with
// several notes in flight the document status never moves backwards.
func (s *Service) MarkInTransit(ctx context.Context, actor shared.Actor, noteID int64) error {
	return s.carrierSignal(ctx, actor, noteID, NotePrepared, NoteInTransit, func(ctx context.Context, tx TxRepository, note DeliveryNote, req requisition.Requisition, now time.Time) error {
		if err := tx.SetDispatched(ctx, note.ID, now); err != nil {
			return err
		}
		if req.Status == requisition.StatusPreparing {
			return tx.UpdateRequisitionStatus(ctx, req.ID, requisition.StatusInTransit)
		}
		return nil
	})
}

// MarkDelivered records the arrival signal on an IN_TRANSIT note.
func (s *Service) MarkDelivered(ctx context.Context, actor shared.Actor, noteID int64) error {
	return s.carrierSignal(ctx, actor, noteID, NoteInTransit, NoteDelivered, func(ctx context.Context, tx TxRepository, note DeliveryNote, req requisition.Requisition, now time.Time) error {
		if err := tx.SetDelivered(ctx, note.ID, now); err != nil {
			return err
		}
		if req.Status == requisition.StatusInTransit {
			return tx.UpdateRequisitionStatus(ctx, req.ID, requisition.StatusDelivered)
		}
		return nil
	})
}

func (s *Service) carrierSignal(ctx context.Context, actor shared.Actor, noteID int64, from, to NoteStatus,
	apply func(context.Context, TxRepository, DeliveryNote, requisition.Requisition, time.Time) error) error {
	now := time.Now()
	var evt NoteEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.GetNoteForUpdate(ctx, noteID)
		if err != nil {
			return err
		}
		req, err := tx.GetRequisitionForUpdate(ctx, note.RequisitionID)
		if err != nil {
			return err
		}
		if requisition.SideOf(req, actor.WarehouseID) != requisition.SideFulfilling {
			return fmt.Errorf("%w: carrier signal on %s", shared.ErrPermissionDenied, note.Number)
		}
		if note.Status != from {
			return fmt.Errorf("%w: %s from %s", shared.ErrInvalidTransition, to, note.Status)
		}
		if err := tx.UpdateNoteStatus(ctx, note.ID, to); err != nil {
			return err
		}
		if err := apply(ctx, tx, note, req, now); err != nil {
			return err
		}
		evt = NoteEvent{DeliveryNoteID: note.ID, Number: note.Number, RequisitionID: note.RequisitionID, ActorID: actor.ID, FromStatus: from, ToStatus: to, At: now}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, evt)
	return nil
}

// Get returns a note and its lines.
func (s *Service) Get(ctx context.Context, id int64) (DeliveryNote, []Line, error) {
	return s.repo.GetNote(ctx, id)
}

// ListByRequisition returns every note of one requisition.
func (s *Service) ListByRequisition(ctx context.Context, requisitionID int64) ([]DeliveryNote, error) {
	return s.repo.ListByRequisition(ctx, requisitionID)
}

func (s *Service) emit(ctx context.Context, evt NoteEvent) {
	if s.notifier == nil || evt.DeliveryNoteID == 0 {
		return
	}
	_ = s.notifier.NotifyDeliveryTransition(ctx, evt)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "delivery_note", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
