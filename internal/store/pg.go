package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meritflow/meritflow/internal/models"
)

// uniqueViolation is the Postgres error code raised when the partial unique
// index on reservations(badge_application_id) WHERE NOT consumed trips.
const uniqueViolation = "23505"

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const badgeApplicationColumns = `id, applicant_id, catalog_badge_id, badge_version, category, level, status, submitted_at, reviewer_id, reviewed_at, review_note, created_at, updated_at`

func scanBadgeApplication(row rowScanner) (models.BadgeApplication, error) {
	var (
		app         models.BadgeApplication
		submittedAt sql.NullTime
		reviewerID  sql.NullString
		reviewedAt  sql.NullTime
		reviewNote  sql.NullString
	)
	if err := row.Scan(
		&app.ID,
		&app.ApplicantID,
		&app.CatalogBadgeID,
		&app.BadgeVersion,
		&app.Category,
		&app.Level,
		&app.Status,
		&submittedAt,
		&reviewerID,
		&reviewedAt,
		&reviewNote,
		&app.CreatedAt,
		&app.UpdatedAt,
	); err != nil {
		return models.BadgeApplication{}, err
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		app.SubmittedAt = &t
	}
	if reviewerID.Valid {
		v := reviewerID.String
		app.ReviewerID = &v
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		app.ReviewedAt = &t
	}
	if reviewNote.Valid {
		v := reviewNote.String
		app.ReviewNote = &v
	}
	return app, nil
}

const promotionColumns = `id, creator_id, path, from_level, to_level, status, submitted_at, approved_by, approved_at, rejected_by, rejected_at, reject_reason, executed, created_at, updated_at`

func scanPromotion(row rowScanner) (models.Promotion, error) {
	var (
		promo        models.Promotion
		submittedAt  sql.NullTime
		approvedBy   sql.NullString
		approvedAt   sql.NullTime
		rejectedBy   sql.NullString
		rejectedAt   sql.NullTime
		rejectReason sql.NullString
	)
	if err := row.Scan(
		&promo.ID,
		&promo.CreatorID,
		&promo.Path,
		&promo.FromLevel,
		&promo.ToLevel,
		&promo.Status,
		&submittedAt,
		&approvedBy,
		&approvedAt,
		&rejectedBy,
		&rejectedAt,
		&rejectReason,
		&promo.Executed,
		&promo.CreatedAt,
		&promo.UpdatedAt,
	); err != nil {
		return models.Promotion{}, err
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		promo.SubmittedAt = &t
	}
	if approvedBy.Valid {
		v := approvedBy.String
		promo.ApprovedBy = &v
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		promo.ApprovedAt = &t
	}
	if rejectedBy.Valid {
		v := rejectedBy.String
		promo.RejectedBy = &v
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		promo.RejectedAt = &t
	}
	if rejectReason.Valid {
		v := rejectReason.String
		promo.RejectReason = &v
	}
	return promo, nil
}

const reservationColumns = `id, promotion_id, badge_application_id, consumed, assigner_id, assigned_at`

func scanReservation(row rowScanner) (models.Reservation, error) {
	var res models.Reservation
	if err := row.Scan(
		&res.ID,
		&res.PromotionID,
		&res.BadgeApplicationID,
		&res.Consumed,
		&res.AssignerID,
		&res.AssignedAt,
	); err != nil {
		return models.Reservation{}, err
	}
	return res, nil
}

// --- badge applications ---

func (s *PGStore) CreateBadgeApplication(ctx context.Context, in BadgeApplicationInput) (models.BadgeApplication, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO badge_applications (id, applicant_id, catalog_badge_id, badge_version, category, level, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING ` + badgeApplicationColumns
	row := s.db.QueryRowContext(ctx, query, in.ID, in.ApplicantID, in.CatalogBadgeID, in.BadgeVersion, in.Category, in.Level, models.BadgeApplicationDraft)
	app, err := scanBadgeApplication(row)
	if err != nil {
		return models.BadgeApplication{}, fmt.Errorf("insert badge application: %w", err)
	}
	return app, nil
}

func (s *PGStore) GetBadgeApplication(ctx context.Context, id uuid.UUID) (models.BadgeApplication, error) {
	query := `SELECT ` + badgeApplicationColumns + ` FROM badge_applications WHERE id=$1`
	app, err := scanBadgeApplication(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.BadgeApplication{}, models.ErrNotFound
		}
		return models.BadgeApplication{}, fmt.Errorf("get badge application: %w", err)
	}
	return app, nil
}

func (s *PGStore) SubmitBadgeApplication(ctx context.Context, id uuid.UUID) (models.BadgeApplication, error) {
	query := `
		UPDATE badge_applications
		SET status=$2, submitted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status=$3
		RETURNING ` + badgeApplicationColumns
	row := s.db.QueryRowContext(ctx, query, id, models.BadgeApplicationSubmitted, models.BadgeApplicationDraft)
	app, err := scanBadgeApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.BadgeApplication{}, s.badgeApplicationTransitionFailure(ctx, id)
		}
		return models.BadgeApplication{}, fmt.Errorf("submit badge application: %w", err)
	}
	return app, nil
}

func (s *PGStore) ReviewBadgeApplication(ctx context.Context, in ReviewInput) (models.BadgeApplication, error) {
	query := `
		UPDATE badge_applications
		SET status=$2, reviewer_id=$3, review_note=$4, reviewed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status=$5
		RETURNING ` + badgeApplicationColumns
	row := s.db.QueryRowContext(ctx, query, in.ID, in.Decision.Status(), in.ReviewerID, in.Note, models.BadgeApplicationSubmitted)
	app, err := scanBadgeApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.BadgeApplication{}, s.badgeApplicationTransitionFailure(ctx, in.ID)
		}
		return models.BadgeApplication{}, fmt.Errorf("review badge application: %w", err)
	}
	return app, nil
}

func (s *PGStore) MarkBadgeApplicationUsed(ctx context.Context, id uuid.UUID) error {
	return s.casBadgeApplicationStatus(ctx, id, models.BadgeApplicationAccepted, models.BadgeApplicationUsed)
}

func (s *PGStore) RevertBadgeApplicationUsed(ctx context.Context, id uuid.UUID) error {
	return s.casBadgeApplicationStatus(ctx, id, models.BadgeApplicationUsed, models.BadgeApplicationAccepted)
}

func (s *PGStore) casBadgeApplicationStatus(ctx context.Context, id uuid.UUID, from, to models.BadgeApplicationStatus) error {
	const query = `
		UPDATE badge_applications
		SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status=$3
	`
	result, err := s.db.ExecContext(ctx, query, id, to, from)
	if err != nil {
		return fmt.Errorf("update badge application status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update badge application status: %w", err)
	}
	if affected == 0 {
		return s.badgeApplicationTransitionFailure(ctx, id)
	}
	return nil
}

// badgeApplicationTransitionFailure distinguishes a missing row from a lost
// guard after a conditional update touched nothing.
func (s *PGStore) badgeApplicationTransitionFailure(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM badge_applications WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolve badge application status: %w", err)
	}
	return &models.InvalidTransitionError{Entity: "badge_application", Current: status}
}

// --- promotions ---

func (s *PGStore) CreatePromotion(ctx context.Context, in PromotionInput) (models.Promotion, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO promotions (id, creator_id, path, from_level, to_level, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING ` + promotionColumns
	row := s.db.QueryRowContext(ctx, query, in.ID, in.CreatorID, in.Path, in.FromLevel, in.ToLevel, models.PromotionDraft)
	promo, err := scanPromotion(row)
	if err != nil {
		return models.Promotion{}, fmt.Errorf("insert promotion: %w", err)
	}
	return promo, nil
}

func (s *PGStore) GetPromotion(ctx context.Context, id uuid.UUID) (models.Promotion, error) {
	query := `SELECT ` + promotionColumns + ` FROM promotions WHERE id=$1`
	promo, err := scanPromotion(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Promotion{}, models.ErrNotFound
		}
		return models.Promotion{}, fmt.Errorf("get promotion: %w", err)
	}
	return promo, nil
}

func (s *PGStore) SubmitPromotion(ctx context.Context, id uuid.UUID) (models.Promotion, error) {
	query := `
		UPDATE promotions
		SET status=$2, submitted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status=$3
		RETURNING ` + promotionColumns
	row := s.db.QueryRowContext(ctx, query, id, models.PromotionSubmitted, models.PromotionDraft)
	promo, err := scanPromotion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Promotion{}, s.promotionTransitionFailure(ctx, id)
		}
		return models.Promotion{}, fmt.Errorf("submit promotion: %w", err)
	}
	return promo, nil
}

func (s *PGStore) ApprovePromotion(ctx context.Context, id uuid.UUID, adminID string) (models.Promotion, error) {
	query := `
		UPDATE promotions
		SET status=$2, approved_by=$3, approved_at=NOW(), executed=TRUE, updated_at=NOW()
		WHERE id=$1 AND status=$4
		RETURNING ` + promotionColumns
	row := s.db.QueryRowContext(ctx, query, id, models.PromotionApproved, adminID, models.PromotionSubmitted)
	promo, err := scanPromotion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Promotion{}, s.promotionTransitionFailure(ctx, id)
		}
		return models.Promotion{}, fmt.Errorf("approve promotion: %w", err)
	}
	return promo, nil
}

func (s *PGStore) RejectPromotion(ctx context.Context, id uuid.UUID, adminID, reason string) (models.Promotion, error) {
	query := `
		UPDATE promotions
		SET status=$2, rejected_by=$3, rejected_at=NOW(), reject_reason=$4, updated_at=NOW()
		WHERE id=$1 AND status=$5
		RETURNING ` + promotionColumns
	row := s.db.QueryRowContext(ctx, query, id, models.PromotionRejected, adminID, reason, models.PromotionSubmitted)
	promo, err := scanPromotion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Promotion{}, s.promotionTransitionFailure(ctx, id)
		}
		return models.Promotion{}, fmt.Errorf("reject promotion: %w", err)
	}
	return promo, nil
}

func (s *PGStore) promotionTransitionFailure(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM promotions WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolve promotion status: %w", err)
	}
	return &models.InvalidTransitionError{Entity: "promotion", Current: status}
}

// --- reservations ---

func (s *PGStore) CreateReservations(ctx context.Context, in ReservationBatchInput) ([]models.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	reservations := make([]models.Reservation, 0, len(in.BadgeApplicationIDs))
	for _, appID := range in.BadgeApplicationIDs {
		var status models.BadgeApplicationStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM badge_applications WHERE id=$1`, appID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check badge application: %w", err)
		}
		if status != models.BadgeApplicationAccepted {
			return nil, &models.InvalidTransitionError{Entity: "badge_application", Current: string(status)}
		}

		query := `
			INSERT INTO reservations (id, promotion_id, badge_application_id, consumed, assigner_id, assigned_at)
			VALUES ($1,$2,$3,FALSE,$4,NOW())
			RETURNING ` + reservationColumns
		row := tx.QueryRowContext(ctx, query, uuid.New(), in.PromotionID, appID, in.AssignerID)
		res, err := scanReservation(row)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				// The tx is aborted at this point; resolve the winner on the
				// main connection so callers get a structured conflict.
				return nil, s.resolveReservationConflict(ctx, appID)
			}
			return nil, fmt.Errorf("insert reservation: %w", err)
		}
		reservations = append(reservations, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reservations: %w", err)
	}
	return reservations, nil
}

func (s *PGStore) resolveReservationConflict(ctx context.Context, badgeApplicationID uuid.UUID) error {
	conflict := &models.ReservationConflictError{BadgeApplicationID: badgeApplicationID}
	err := s.db.QueryRowContext(ctx,
		`SELECT promotion_id FROM reservations WHERE badge_application_id=$1 AND NOT consumed`,
		badgeApplicationID,
	).Scan(&conflict.OwningPromotionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("resolve reservation conflict: %w", err)
	}
	return conflict
}

func (s *PGStore) DeleteReservation(ctx context.Context, promotionID, badgeApplicationID uuid.UUID) error {
	const query = `
		DELETE FROM reservations
		WHERE promotion_id=$1 AND badge_application_id=$2 AND NOT consumed
	`
	result, err := s.db.ExecContext(ctx, query, promotionID, badgeApplicationID)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PGStore) ListReservationsByPromotion(ctx context.Context, promotionID uuid.UUID) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE promotion_id=$1 ORDER BY assigned_at`
	rows, err := s.db.QueryContext(ctx, query, promotionID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return reservations, nil
}

func (s *PGStore) ConsumeReservations(ctx context.Context, promotionID uuid.UUID) (int, error) {
	const query = `UPDATE reservations SET consumed=TRUE WHERE promotion_id=$1 AND NOT consumed`
	result, err := s.db.ExecContext(ctx, query, promotionID)
	if err != nil {
		return 0, fmt.Errorf("consume reservations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("consume reservations: %w", err)
	}
	return int(affected), nil
}

func (s *PGStore) ReleaseReservations(ctx context.Context, promotionID uuid.UUID) ([]uuid.UUID, error) {
	const query = `DELETE FROM reservations WHERE promotion_id=$1 RETURNING badge_application_id`
	rows, err := s.db.QueryContext(ctx, query, promotionID)
	if err != nil {
		return nil, fmt.Errorf("release reservations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan released reservation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate released reservations: %w", err)
	}
	return ids, nil
}

// --- read-only collaborators ---

func (s *PGStore) GetCatalogBadge(ctx context.Context, id uuid.UUID) (models.CatalogBadge, error) {
	const query = `SELECT id, name, category, level, version, active FROM catalog_badges WHERE id=$1`
	var badge models.CatalogBadge
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&badge.ID, &badge.Name, &badge.Category, &badge.Level, &badge.Version, &badge.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CatalogBadge{}, models.ErrNotFound
	}
	if err != nil {
		return models.CatalogBadge{}, fmt.Errorf("get catalog badge: %w", err)
	}
	return badge, nil
}

func (s *PGStore) GetTemplate(ctx context.Context, path, fromLevel, toLevel string) (models.RequirementTemplate, error) {
	const query = `
		SELECT id, path, from_level, to_level, rules
		FROM requirement_templates
		WHERE path=$1 AND from_level=$2 AND to_level=$3
	`
	var (
		tmpl  models.RequirementTemplate
		rules []byte
	)
	err := s.db.QueryRowContext(ctx, query, path, fromLevel, toLevel).Scan(
		&tmpl.ID, &tmpl.Path, &tmpl.FromLevel, &tmpl.ToLevel, &rules)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RequirementTemplate{}, models.ErrNotFound
	}
	if err != nil {
		return models.RequirementTemplate{}, fmt.Errorf("get requirement template: %w", err)
	}
	if err := json.Unmarshal(rules, &tmpl.Rules); err != nil {
		return models.RequirementTemplate{}, fmt.Errorf("decode template rules: %w", err)
	}
	return tmpl, nil
}
