package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Settings holds the single-tenant company configuration used on invoices.
// It is loaded once and handed to the invoice engine as a value; there is no
// process-global accessor.
type Settings struct {
	CompanyName         string
	Email               string
	Phone               string
	Address             string
	City                string
	PostalCode          string
	Website             string
	LogoPath            string
	TaxNumber           string
	InvoiceNumberPrefix string
	InvoiceDefaultTerms string
	InvoiceDefaultNotes string
}

// SettingsService reads and writes the company_settings row. Current serves
// a cached copy; Invalidate is the explicit hook that forces the next
// Current to re-read the database.
type SettingsService interface {
	Current(ctx context.Context) (Settings, error)
	Update(ctx context.Context, s Settings) (Settings, error)
	Invalidate()
}

type settingsService struct {
	pool *pgxpool.Pool

	mu     sync.RWMutex
	cached *Settings
}

func NewSettingsService(pool *pgxpool.Pool) SettingsService {
	return &settingsService{pool: pool}
}

func (s *settingsService) Current(ctx context.Context) (Settings, error) {
	s.mu.RLock()
	if s.cached != nil {
		cfg := *s.cached
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached, nil
	}

	// First call on an empty table seeds the defaults row.
	var cfg Settings
	err := s.pool.QueryRow(ctx, `
		INSERT INTO company_settings (id, company_name, invoice_number_prefix)
		VALUES (1, 'My Company', 'INV')
		ON CONFLICT (id) DO UPDATE SET id = company_settings.id
		RETURNING company_name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address, ''),
		          COALESCE(city, ''), COALESCE(postal_code, ''), COALESCE(website, ''),
		          COALESCE(logo_path, ''), COALESCE(tax_number, ''),
		          invoice_number_prefix, COALESCE(invoice_default_terms, ''), COALESCE(invoice_default_notes, '')
	`).Scan(
		&cfg.CompanyName, &cfg.Email, &cfg.Phone, &cfg.Address,
		&cfg.City, &cfg.PostalCode, &cfg.Website,
		&cfg.LogoPath, &cfg.TaxNumber,
		&cfg.InvoiceNumberPrefix, &cfg.InvoiceDefaultTerms, &cfg.InvoiceDefaultNotes,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load company settings: %w", err)
	}

	s.cached = &cfg
	return cfg, nil
}

func (s *settingsService) Update(ctx context.Context, in Settings) (Settings, error) {
	if in.InvoiceNumberPrefix == "" {
		return Settings{}, &ValidationError{Field: "invoice_number_prefix", Message: "must not be empty"}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO company_settings (id, company_name, email, phone, address, city, postal_code, website,
		                              logo_path, tax_number, invoice_number_prefix, invoice_default_terms, invoice_default_notes)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			postal_code = EXCLUDED.postal_code,
			website = EXCLUDED.website,
			logo_path = EXCLUDED.logo_path,
			tax_number = EXCLUDED.tax_number,
			invoice_number_prefix = EXCLUDED.invoice_number_prefix,
			invoice_default_terms = EXCLUDED.invoice_default_terms,
			invoice_default_notes = EXCLUDED.invoice_default_notes,
			updated_at = NOW()
	`, in.CompanyName, in.Email, in.Phone, in.Address, in.City, in.PostalCode, in.Website,
		in.LogoPath, in.TaxNumber, in.InvoiceNumberPrefix, in.InvoiceDefaultTerms, in.InvoiceDefaultNotes)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to update company settings: %w", err)
	}

	s.Invalidate()
	return s.Current(ctx)
}

func (s *settingsService) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
