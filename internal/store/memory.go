package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meritflow/meritflow/internal/models"
)

// MemoryStore is the in-process twin of PGStore. It enforces the same
// invariants — guarded transitions and the one-unconsumed-reservation-per-
// badge-application rule — under a single mutex, which makes it suitable for
// tests exercising the concurrency properties of the workflow.
type MemoryStore struct {
	mu           sync.Mutex
	applications map[uuid.UUID]models.BadgeApplication
	promotions   map[uuid.UUID]models.Promotion
	reservations map[uuid.UUID]models.Reservation
	// active indexes the unconsumed reservation per badge application; it is
	// the in-memory analogue of the partial unique index.
	active    map[uuid.UUID]uuid.UUID // badge application id -> reservation id
	catalog   map[uuid.UUID]models.CatalogBadge
	templates map[templateKey]models.RequirementTemplate
}

type templateKey struct {
	Path      string
	FromLevel string
	ToLevel   string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications: map[uuid.UUID]models.BadgeApplication{},
		promotions:   map[uuid.UUID]models.Promotion{},
		reservations: map[uuid.UUID]models.Reservation{},
		active:       map[uuid.UUID]uuid.UUID{},
		catalog:      map[uuid.UUID]models.CatalogBadge{},
		templates:    map[templateKey]models.RequirementTemplate{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// SeedCatalogBadge registers a catalog badge. The workflow engine only reads
// the catalog; tests and local runs populate it through this helper.
func (m *MemoryStore) SeedCatalogBadge(badge models.CatalogBadge) models.CatalogBadge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if badge.ID == uuid.Nil {
		badge.ID = uuid.New()
	}
	if badge.Version == 0 {
		badge.Version = 1
	}
	m.catalog[badge.ID] = badge
	return badge
}

// SeedTemplate registers a requirement template.
func (m *MemoryStore) SeedTemplate(tmpl models.RequirementTemplate) models.RequirementTemplate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	m.templates[templateKey{tmpl.Path, tmpl.FromLevel, tmpl.ToLevel}] = tmpl
	return tmpl
}

// --- badge applications ---

func (m *MemoryStore) CreateBadgeApplication(ctx context.Context, in BadgeApplicationInput) (models.BadgeApplication, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	app := models.BadgeApplication{
		ID:             in.ID,
		ApplicantID:    in.ApplicantID,
		CatalogBadgeID: in.CatalogBadgeID,
		BadgeVersion:   in.BadgeVersion,
		Category:       in.Category,
		Level:          in.Level,
		Status:         models.BadgeApplicationDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applications[app.ID] = app
	return app, nil
}

func (m *MemoryStore) GetBadgeApplication(ctx context.Context, id uuid.UUID) (models.BadgeApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return models.BadgeApplication{}, models.ErrNotFound
	}
	return app, nil
}

func (m *MemoryStore) SubmitBadgeApplication(ctx context.Context, id uuid.UUID) (models.BadgeApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return models.BadgeApplication{}, models.ErrNotFound
	}
	if app.Status != models.BadgeApplicationDraft {
		return models.BadgeApplication{}, &models.InvalidTransitionError{Entity: "badge_application", Current: string(app.Status)}
	}
	now := time.Now().UTC()
	app.Status = models.BadgeApplicationSubmitted
	app.SubmittedAt = &now
	app.UpdatedAt = now
	m.applications[id] = app
	return app, nil
}

func (m *MemoryStore) ReviewBadgeApplication(ctx context.Context, in ReviewInput) (models.BadgeApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[in.ID]
	if !ok {
		return models.BadgeApplication{}, models.ErrNotFound
	}
	if app.Status != models.BadgeApplicationSubmitted {
		return models.BadgeApplication{}, &models.InvalidTransitionError{Entity: "badge_application", Current: string(app.Status)}
	}
	now := time.Now().UTC()
	reviewer := in.ReviewerID
	app.Status = in.Decision.Status()
	app.ReviewerID = &reviewer
	app.ReviewedAt = &now
	app.ReviewNote = in.Note
	app.UpdatedAt = now
	m.applications[in.ID] = app
	return app, nil
}

func (m *MemoryStore) MarkBadgeApplicationUsed(ctx context.Context, id uuid.UUID) error {
	return m.casApplicationStatus(id, models.BadgeApplicationAccepted, models.BadgeApplicationUsed)
}

func (m *MemoryStore) RevertBadgeApplicationUsed(ctx context.Context, id uuid.UUID) error {
	return m.casApplicationStatus(id, models.BadgeApplicationUsed, models.BadgeApplicationAccepted)
}

func (m *MemoryStore) casApplicationStatus(id uuid.UUID, from, to models.BadgeApplicationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return models.ErrNotFound
	}
	if app.Status != from {
		return &models.InvalidTransitionError{Entity: "badge_application", Current: string(app.Status)}
	}
	app.Status = to
	app.UpdatedAt = time.Now().UTC()
	m.applications[id] = app
	return nil
}

// --- promotions ---

func (m *MemoryStore) CreatePromotion(ctx context.Context, in PromotionInput) (models.Promotion, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	promo := models.Promotion{
		ID:        in.ID,
		CreatorID: in.CreatorID,
		Path:      in.Path,
		FromLevel: in.FromLevel,
		ToLevel:   in.ToLevel,
		Status:    models.PromotionDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions[promo.ID] = promo
	return promo, nil
}

func (m *MemoryStore) GetPromotion(ctx context.Context, id uuid.UUID) (models.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	promo, ok := m.promotions[id]
	if !ok {
		return models.Promotion{}, models.ErrNotFound
	}
	return promo, nil
}

func (m *MemoryStore) SubmitPromotion(ctx context.Context, id uuid.UUID) (models.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	promo, ok := m.promotions[id]
	if !ok {
		return models.Promotion{}, models.ErrNotFound
	}
	if promo.Status != models.PromotionDraft {
		return models.Promotion{}, &models.InvalidTransitionError{Entity: "promotion", Current: string(promo.Status)}
	}
	now := time.Now().UTC()
	promo.Status = models.PromotionSubmitted
	promo.SubmittedAt = &now
	promo.UpdatedAt = now
	m.promotions[id] = promo
	return promo, nil
}

func (m *MemoryStore) ApprovePromotion(ctx context.Context, id uuid.UUID, adminID string) (models.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	promo, ok := m.promotions[id]
	if !ok {
		return models.Promotion{}, models.ErrNotFound
	}
	if promo.Status != models.PromotionSubmitted {
		return models.Promotion{}, &models.InvalidTransitionError{Entity: "promotion", Current: string(promo.Status)}
	}
	now := time.Now().UTC()
	promo.Status = models.PromotionApproved
	promo.ApprovedBy = &adminID
	promo.ApprovedAt = &now
	promo.Executed = true
	promo.UpdatedAt = now
	m.promotions[id] = promo
	return promo, nil
}

func (m *MemoryStore) RejectPromotion(ctx context.Context, id uuid.UUID, adminID, reason string) (models.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	promo, ok := m.promotions[id]
	if !ok {
		return models.Promotion{}, models.ErrNotFound
	}
	if promo.Status != models.PromotionSubmitted {
		return models.Promotion{}, &models.InvalidTransitionError{Entity: "promotion", Current: string(promo.Status)}
	}
	now := time.Now().UTC()
	promo.Status = models.PromotionRejected
	promo.RejectedBy = &adminID
	promo.RejectedAt = &now
	promo.RejectReason = &reason
	promo.UpdatedAt = now
	m.promotions[id] = promo
	return promo, nil
}

// --- reservations ---

func (m *MemoryStore) CreateReservations(ctx context.Context, in ReservationBatchInput) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// All-or-nothing: validate the whole batch before inserting anything.
	for _, appID := range in.BadgeApplicationIDs {
		app, ok := m.applications[appID]
		if !ok {
			return nil, models.ErrNotFound
		}
		if app.Status != models.BadgeApplicationAccepted {
			return nil, &models.InvalidTransitionError{Entity: "badge_application", Current: string(app.Status)}
		}
		if resID, taken := m.active[appID]; taken {
			return nil, &models.ReservationConflictError{
				BadgeApplicationID: appID,
				OwningPromotionID:  m.reservations[resID].PromotionID,
			}
		}
	}

	now := time.Now().UTC()
	reservations := make([]models.Reservation, 0, len(in.BadgeApplicationIDs))
	for _, appID := range in.BadgeApplicationIDs {
		res := models.Reservation{
			ID:                 uuid.New(),
			PromotionID:        in.PromotionID,
			BadgeApplicationID: appID,
			Consumed:           false,
			AssignerID:         in.AssignerID,
			AssignedAt:         now,
		}
		m.reservations[res.ID] = res
		m.active[appID] = res.ID
		reservations = append(reservations, res)
	}
	return reservations, nil
}

func (m *MemoryStore) DeleteReservation(ctx context.Context, promotionID, badgeApplicationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	resID, ok := m.active[badgeApplicationID]
	if !ok {
		return models.ErrNotFound
	}
	res := m.reservations[resID]
	if res.PromotionID != promotionID || res.Consumed {
		return models.ErrNotFound
	}
	delete(m.reservations, resID)
	delete(m.active, badgeApplicationID)
	return nil
}

func (m *MemoryStore) ListReservationsByPromotion(ctx context.Context, promotionID uuid.UUID) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reservation
	for _, res := range m.reservations {
		if res.PromotionID == promotionID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *MemoryStore) ConsumeReservations(ctx context.Context, promotionID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, res := range m.reservations {
		if res.PromotionID == promotionID && !res.Consumed {
			res.Consumed = true
			m.reservations[id] = res
			// The active index mirrors the partial unique index: it only
			// covers unconsumed rows. Re-reservation of a consumed badge
			// application is blocked by its used_in_promotion status.
			if m.active[res.BadgeApplicationID] == id {
				delete(m.active, res.BadgeApplicationID)
			}
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ReleaseReservations(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, res := range m.reservations {
		if res.PromotionID != promotionID {
			continue
		}
		delete(m.reservations, id)
		if m.active[res.BadgeApplicationID] == id {
			delete(m.active, res.BadgeApplicationID)
		}
		ids = append(ids, res.BadgeApplicationID)
	}
	return ids, nil
}

// --- read-only collaborators ---

func (m *MemoryStore) GetCatalogBadge(ctx context.Context, id uuid.UUID) (models.CatalogBadge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	badge, ok := m.catalog[id]
	if !ok {
		return models.CatalogBadge{}, models.ErrNotFound
	}
	return badge, nil
}

func (m *MemoryStore) GetTemplate(ctx context.Context, path, fromLevel, toLevel string) (models.RequirementTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmpl, ok := m.templates[templateKey{path, fromLevel, toLevel}]
	if !ok {
		return models.RequirementTemplate{}, models.ErrNotFound
	}
	return tmpl, nil
}
