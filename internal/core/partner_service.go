package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PartnerInput is the caller-supplied shape for partner create and update.
// An empty Code on create mints the next P- code.
type PartnerInput struct {
	Code         string
	Type         PartnerType
	Name         string
	Phone        string
	MobilePhone  string
	Email        string
	AddressLine1 string
	AddressLine2 string
	City         string
	Province     string
	PostalCode   string
	Country      string
	Website      string
	Notes        string
}

type PartnerService interface {
	Create(ctx context.Context, input PartnerInput) (*Partner, error)
	Get(ctx context.Context, id int) (*Partner, error)
	Update(ctx context.Context, id int, input PartnerInput) (*Partner, error)
	// Delete tombstones the partner; the row is kept so its code is never
	// reissued.
	Delete(ctx context.Context, id int) error
	List(ctx context.Context) ([]Partner, error)
}

type partnerService struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
	seq  SequenceService
}

func NewPartnerService(pool *pgxpool.Pool, log *logrus.Logger, seq SequenceService) PartnerService {
	return &partnerService{pool: pool, log: log, seq: seq}
}

func validPartnerType(t PartnerType) bool {
	switch t {
	case PartnerClient, PartnerSupplier, PartnerSupplierClient:
		return true
	}
	return false
}

func (s *partnerService) Create(ctx context.Context, input PartnerInput) (*Partner, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !validPartnerType(input.Type) {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown partner type %q", input.Type)}
	}

	var id int
	err := retryTx(s.log, sequenceScopes[ScopePartner].prefix, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		code := input.Code
		if code == "" {
			code, err = s.seq.NextTx(ctx, tx, ScopePartner)
			if err != nil {
				return err
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO partners (code, type, name, phone, mobile_phone, email,
			                      address_line1, address_line2, city, province, postal_code, country,
			                      website, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id
		`, code, input.Type, input.Name, input.Phone, input.MobilePhone, input.Email,
			input.AddressLine1, input.AddressLine2, input.City, input.Province, input.PostalCode, input.Country,
			input.Website, input.Notes).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert partner: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *partnerService) Get(ctx context.Context, id int) (*Partner, error) {
	var p Partner
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, type, name, COALESCE(phone, ''), COALESCE(mobile_phone, ''), COALESCE(email, ''),
		       COALESCE(address_line1, ''), COALESCE(address_line2, ''), COALESCE(city, ''),
		       COALESCE(province, ''), COALESCE(postal_code, ''), COALESCE(country, ''),
		       COALESCE(website, ''), COALESCE(notes, ''), created_at, deleted_at
		FROM partners
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(
		&p.ID, &p.Code, &p.Type, &p.Name, &p.Phone, &p.MobilePhone, &p.Email,
		&p.AddressLine1, &p.AddressLine2, &p.City,
		&p.Province, &p.PostalCode, &p.Country,
		&p.Website, &p.Notes, &p.CreatedAt, &p.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "partner", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch partner: %w", err)
	}
	return &p, nil
}

func (s *partnerService) Update(ctx context.Context, id int, input PartnerInput) (*Partner, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !validPartnerType(input.Type) {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown partner type %q", input.Type)}
	}

	// The code is immutable after creation; Update never touches it.
	tag, err := s.pool.Exec(ctx, `
		UPDATE partners
		SET type = $1, name = $2, phone = $3, mobile_phone = $4, email = $5,
		    address_line1 = $6, address_line2 = $7, city = $8, province = $9,
		    postal_code = $10, country = $11, website = $12, notes = $13, updated_at = NOW()
		WHERE id = $14 AND deleted_at IS NULL
	`, input.Type, input.Name, input.Phone, input.MobilePhone, input.Email,
		input.AddressLine1, input.AddressLine2, input.City, input.Province,
		input.PostalCode, input.Country, input.Website, input.Notes, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update partner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &NotFoundError{Entity: "partner", Key: id}
	}
	return s.Get(ctx, id)
}

func (s *partnerService) Delete(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE partners SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete partner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "partner", Key: id}
	}
	return nil
}

func (s *partnerService) List(ctx context.Context) ([]Partner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, type, name, COALESCE(phone, ''), COALESCE(mobile_phone, ''), COALESCE(email, ''),
		       COALESCE(address_line1, ''), COALESCE(address_line2, ''), COALESCE(city, ''),
		       COALESCE(province, ''), COALESCE(postal_code, ''), COALESCE(country, ''),
		       COALESCE(website, ''), COALESCE(notes, ''), created_at, deleted_at
		FROM partners
		WHERE deleted_at IS NULL
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query partners: %w", err)
	}
	defer rows.Close()

	var partners []Partner
	for rows.Next() {
		var p Partner
		if err := rows.Scan(
			&p.ID, &p.Code, &p.Type, &p.Name, &p.Phone, &p.MobilePhone, &p.Email,
			&p.AddressLine1, &p.AddressLine2, &p.City,
			&p.Province, &p.PostalCode, &p.Country,
			&p.Website, &p.Notes, &p.CreatedAt, &p.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan partner: %w", err)
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}
