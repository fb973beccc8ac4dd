package requisition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/catalog"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Requisition, []Item, error)
	List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error)
	ListByOrigin(ctx context.Context, originID int64) ([]ListItem, error)
}

// CatalogPort resolves drug references for line validation. Read-only.
type CatalogPort interface {
	Resolve(ctx context.Context, drugID int64) (catalog.Drug, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the requisition lifecycle.
type Service struct {
	repo      RepositoryPort
	catalog   CatalogPort
	approvals *shared.ApprovalRecorder
	audit     AuditPort
	notifier  Notifier
}

// NewService constructs the requisition service.
func NewService(repo RepositoryPort, catalog CatalogPort, approvals *shared.ApprovalRecorder, audit AuditPort, notifier Notifier) *Service {
	return &Service{repo: repo, catalog: catalog, approvals: approvals, audit: audit, notifier: notifier}
}

// LineInput describes one requested line.
type LineInput struct {
	DrugID    int64
	Unit      string
	Qty       float64
	UnitPrice float64
}

// CreateInput describes the creation payload.
type CreateInput struct {
	Number                string
	Type                  Type
	Priority              Priority
	FulfillingWarehouseID int64
	RequestingWarehouseID int64
	Purpose               string
	Lines                 []LineInput
}

// ApproveLine overrides the approved quantity for one line.
type ApproveLine struct {
	ItemID int64
	Qty    float64
}

// ApproveInput carries optional per-line approved quantities. Lines without
// an override are approved at the full requested quantity.
type ApproveInput struct {
	Lines []ApproveLine
}

// ShortfallInput is used by the receiving close-out to spawn a follow-up
// requisition for undelivered or unreceived quantity.
type ShortfallInput struct {
	Origin      Requisition
	RequestedBy int64
	Lines       []LineInput
}

// Create persists a new DRAFT requisition authored by the requesting side.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (Requisition, error) {
	if len(input.Lines) == 0 {
		return Requisition{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	if input.FulfillingWarehouseID == 0 || input.RequestingWarehouseID == 0 {
		return Requisition{}, fmt.Errorf("%w: both warehouses required", shared.ErrValidation)
	}
	if input.FulfillingWarehouseID == input.RequestingWarehouseID {
		return Requisition{}, fmt.Errorf("%w: fulfilling and requesting warehouse must differ", shared.ErrValidation)
	}
	if actor.WarehouseID != input.RequestingWarehouseID {
		return Requisition{}, fmt.Errorf("%w: requisitions are created by the requesting side", shared.ErrPermissionDenied)
	}
	if input.Type == "" {
		input.Type = TypeRegular
	}
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}
	if !validType(input.Type) || !validPriority(input.Priority) {
		return Requisition{}, fmt.Errorf("%w: unknown type or priority", shared.ErrValidation)
	}
	if input.Number == "" {
		input.Number = generateNumber("RQ")
	}

	items := make([]Item, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.DrugID == 0 || line.Qty <= 0 {
			return Requisition{}, fmt.Errorf("%w: drug and positive quantity required", shared.ErrValidation)
		}
		drug, err := s.catalog.Resolve(ctx, line.DrugID)
		if err != nil {
			return Requisition{}, fmt.Errorf("%w: unknown drug %d", shared.ErrValidation, line.DrugID)
		}
		unit := line.Unit
		if unit == "" {
			unit = drug.Unit
		}
		price := line.UnitPrice
		if price == 0 {
			price = drug.DefaultPrice
		}
		items = append(items, Item{DrugID: line.DrugID, Unit: unit, RequestedQty: line.Qty, UnitPrice: price})
	}

	req := Requisition{
		Number:                input.Number,
		Type:                  input.Type,
		Priority:              input.Priority,
		Status:                StatusDraft,
		FulfillingWarehouseID: input.FulfillingWarehouseID,
		RequestingWarehouseID: input.RequestingWarehouseID,
		RequestedBy:           actor.ID,
		Purpose:               input.Purpose,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateRequisition(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		for i := range items {
			items[i].RequisitionID = id
			if _, err := tx.InsertItem(ctx, items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, actor.ID, "REQUISITION_CREATE", req.ID, map[string]any{"number": req.Number, "type": string(req.Type)})
	return req, nil
}

// Submit moves a DRAFT requisition to SUBMITTED.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, id int64) error {
	var evt TransitionEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Check(req, ActionSubmit, actor.WarehouseID); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, StatusSubmitted); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.EnsureSubmit(ctx, "REQUISITION", approvalRef(id), actor.ID, fmt.Sprintf("requisition %s submitted", req.Number))
		}
		evt = TransitionEvent{RequisitionID: id, Number: req.Number, Action: ActionSubmit, ActorID: actor.ID, FromStatus: req.Status, ToStatus: StatusSubmitted, At: time.Now()}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, evt)
	return nil
}

// Approve sets per-line approved quantities and moves the document to
// APPROVED. Only the fulfilling side may approve.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64, input ApproveInput) error {
	overrides := make(map[int64]float64, len(input.Lines))
	for _, line := range input.Lines {
		overrides[line.ItemID] = line.Qty
	}
	now := time.Now()
	var evt TransitionEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Check(req, ActionApprove, actor.WarehouseID); err != nil {
			return err
		}
		items, err := tx.GetItems(ctx, id)
		if err != nil {
			return err
		}
		known := make(map[int64]bool, len(items))
		for _, item := range items {
			known[item.ID] = true
			qty, ok := overrides[item.ID]
			if !ok {
				qty = item.RequestedQty
			}
			if qty <= 0 {
				return fmt.Errorf("%w: approved quantity must be positive", shared.ErrValidation)
			}
			if qty > item.RequestedQty {
				return fmt.Errorf("%w: approved %g exceeds requested %g for drug %d", shared.ErrQuantityViolation, qty, item.RequestedQty, item.DrugID)
			}
			if err := tx.SetItemApprovedQty(ctx, item.ID, qty); err != nil {
				return err
			}
		}
		for itemID := range overrides {
			if !known[itemID] {
				return fmt.Errorf("%w: unknown line %d", shared.ErrValidation, itemID)
			}
		}
		if err := tx.SetApproval(ctx, id, actor.ID, now); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, StatusApproved); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "REQUISITION", RefID: approvalRef(id), ActorID: actor.ID, Action: shared.ApprovalApprove, Note: fmt.Sprintf("requisition %s approved", req.Number)})
		}
		evt = TransitionEvent{RequisitionID: id, Number: req.Number, Action: ActionApprove, ActorID: actor.ID, FromStatus: req.Status, ToStatus: StatusApproved, At: now}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, evt)
	return nil
}

// Reject refuses a SUBMITTED requisition. The reason is required and is
// validated before any state change.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	now := time.Now()
	var evt TransitionEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Check(req, ActionReject, actor.WarehouseID); err != nil {
			return err
		}
		if err := tx.SetRejection(ctx, id, actor.ID, now, reason); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, StatusRejected); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "REQUISITION", RefID: approvalRef(id), ActorID: actor.ID, Action: shared.ApprovalReject, Note: reason})
		}
		evt = TransitionEvent{RequisitionID: id, Number: req.Number, Action: ActionReject, ActorID: actor.ID, FromStatus: req.Status, ToStatus: StatusRejected, Notes: reason, At: now}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, evt)
	return nil
}

// Cancel withdraws a DRAFT or SUBMITTED requisition. Approved or in-flight
// documents cannot be cancelled; the guard refuses them.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64) error {
	var evt TransitionEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Check(req, ActionCancel, actor.WarehouseID); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, StatusCancelled); err != nil {
			return err
		}
		evt = TransitionEvent{RequisitionID: id, Number: req.Number, Action: ActionCancel, ActorID: actor.ID, FromStatus: req.Status, ToStatus: StatusCancelled, At: time.Now()}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, evt)
	return nil
}

// CreateShortfall synthesizes the follow-up requisition for quantity the
// closed origin document never received. The new document is EMERGENCY,
// HIGH priority, carries the origin's warehouse pair, and skips DRAFT so it
// immediately awaits approval by the fulfilling side.
func (s *Service) CreateShortfall(ctx context.Context, input ShortfallInput) (Requisition, error) {
	if input.Origin.ID == 0 {
		return Requisition{}, fmt.Errorf("%w: origin requisition required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Requisition{}, fmt.Errorf("%w: at least one shortfall line required", shared.ErrValidation)
	}
	req := Requisition{
		Number:                generateNumber("RQ"),
		Type:                  TypeEmergency,
		Priority:              PriorityHigh,
		Status:                StatusSubmitted,
		FulfillingWarehouseID: input.Origin.FulfillingWarehouseID,
		RequestingWarehouseID: input.Origin.RequestingWarehouseID,
		RequestedBy:           input.RequestedBy,
		OriginRequisitionID:   input.Origin.ID,
		Purpose:               fmt.Sprintf("shortfall follow-up for %s", input.Origin.Number),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// A close-out retried after a partial failure must not spawn a
		// second follow-up for the same origin.
		exists, err := tx.HasActiveFollowUp(ctx, input.Origin.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: follow-up for %s already exists", shared.ErrConflict, input.Origin.Number)
		}
		id, err := tx.CreateRequisition(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		for _, line := range input.Lines {
			if line.Qty <= 0 {
				return fmt.Errorf("%w: shortfall quantity must be positive", shared.ErrValidation)
			}
			item := Item{RequisitionID: id, DrugID: line.DrugID, Unit: line.Unit, RequestedQty: line.Qty, UnitPrice: line.UnitPrice}
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
		}
		if s.approvals != nil {
			_ = s.approvals.EnsureSubmit(ctx, "REQUISITION", approvalRef(id), input.RequestedBy, fmt.Sprintf("shortfall follow-up for %s", input.Origin.Number))
		}
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, input.RequestedBy, "REQUISITION_SHORTFALL", req.ID, map[string]any{"number": req.Number, "origin_id": input.Origin.ID})
	s.emit(ctx, TransitionEvent{RequisitionID: req.ID, Number: req.Number, Action: ActionSubmit, ActorID: input.RequestedBy, FromStatus: StatusDraft, ToStatus: StatusSubmitted, Notes: req.Purpose, At: time.Now()})
	return req, nil
}

// Get returns the document, its lines, and the caller's legal next actions.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Requisition, []Item, []Action, error) {
	req, items, err := s.repo.Get(ctx, id)
	if err != nil {
		return Requisition{}, nil, nil, err
	}
	actions := NextActions(req.Status, SideOf(req, actor.WarehouseID))
	return req, items, actions, nil
}

// List returns a queue view page.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, filters)
}

// Trace walks origin pointers from the given document to the ultimate
// origin, and collects the documents spawned from it. Chains are acyclic by
// construction since every generated document targets a strictly smaller
// quantity.
func (s *Service) Trace(ctx context.Context, id int64) ([]Requisition, []ListItem, error) {
	var ancestors []Requisition
	current := id
	for current != 0 {
		req, _, err := s.repo.Get(ctx, current)
		if err != nil {
			return nil, nil, err
		}
		ancestors = append(ancestors, req)
		current = req.OriginRequisitionID
	}
	children, err := s.repo.ListByOrigin(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return ancestors, children, nil
}

func (s *Service) emit(ctx context.Context, evt TransitionEvent) {
	if s.notifier == nil || evt.RequisitionID == 0 {
		return
	}
	_ = s.notifier.NotifyRequisitionTransition(ctx, evt)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "requisition", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

// approvalRef derives a stable approval reference for a requisition.
func approvalRef(id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("REQUISITION:%d", id)))
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func validType(t Type) bool {
	switch t {
	case TypeRegular, TypeEmergency, TypeScheduled, TypeReturn:
		return true
	}
	return false
}

func validPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
