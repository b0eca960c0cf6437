package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        uid TEXT PRIMARY KEY,
        display_name TEXT NOT NULL DEFAULT '',
        email TEXT NOT NULL DEFAULT '',
        bio TEXT NOT NULL DEFAULT '',
        institution TEXT NOT NULL DEFAULT '',
        role TEXT NOT NULL DEFAULT '',
        consent_status TEXT NOT NULL DEFAULT 'pending' CHECK (consent_status IN ('pending', 'completed', 'declined')),
        consent_date DATETIME,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS models (
        id TEXT PRIMARY KEY, -- UUID
        name TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        owner_id TEXT NOT NULL,
        owner_name TEXT NOT NULL DEFAULT '',
        visibility TEXT NOT NULL CHECK (visibility IN ('public', 'private')),
        model_url TEXT NOT NULL,
        tags_json TEXT NOT NULL DEFAULT '[]',
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_models_visibility_created ON models (visibility, created_at DESC);

    CREATE TABLE IF NOT EXISTS consent_forms (
        user_id TEXT PRIMARY KEY,
        email TEXT NOT NULL,
        display_name TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'declined')),
        consent_date DATETIME,
        survey_link TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Model methods
func (s *SQLiteStore) CreateModel(ctx context.Context, m *SharedModel) error {
	tagsJSON, err := marshalTags(m.Tags)
	if err != nil {
		return err
	}

	m.ID = uuid.NewString()
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO models (id, name, description, owner_id, owner_name, visibility, model_url, tags_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Description, m.OwnerID, m.OwnerName, string(m.Visibility), m.ModelURL, tagsJSON, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert model: %w", err)
	}
	return nil
}

const modelColumns = "id, name, description, owner_id, owner_name, visibility, model_url, tags_json, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (*SharedModel, error) {
	var m SharedModel
	var visibility, tagsJSON string
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &m.OwnerID, &m.OwnerName, &visibility, &m.ModelURL, &tagsJSON, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Visibility = Visibility(visibility)
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags for model %s: %w", m.ID, err)
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return &m, nil
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (*SharedModel, error) {
	m, err := scanModel(s.db.QueryRowContext(ctx, "SELECT "+modelColumns+" FROM models WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) UpdateModel(ctx context.Context, id string, upd ModelUpdate) (*SharedModel, error) {
	m, err := s.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	upd.Apply(m)
	m.UpdatedAt = s.now()

	tagsJSON, err := marshalTags(m.Tags)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE models SET name = ?, description = ?, visibility = ?, tags_json = ?, updated_at = ? WHERE id = ?",
		m.Name, m.Description, string(m.Visibility), tagsJSON, m.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to execute model update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *SQLiteStore) DeleteModel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM models WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListPublicModels(ctx context.Context) ([]SharedModel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+modelColumns+" FROM models WHERE visibility = ? ORDER BY created_at DESC", string(VisibilityPublic))
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	models := []SharedModel{}
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

// Profile methods
func (s *SQLiteStore) GetProfile(ctx context.Context, uid string) (*UserProfile, error) {
	var p UserProfile
	var status string
	var consentDate sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT uid, display_name, email, bio, institution, role, consent_status, consent_date, updated_at FROM users WHERE uid = ?", uid).
		Scan(&p.UID, &p.DisplayName, &p.Email, &p.Bio, &p.Institution, &p.Role, &status, &consentDate, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	p.ConsentStatus = ConsentStatus(status)
	if consentDate.Valid {
		p.ConsentDate = &consentDate.Time
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p *UserProfile) error {
	if p.ConsentStatus == "" {
		p.ConsentStatus = ConsentPending
	}
	p.UpdatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (uid, display_name, email, bio, institution, role, consent_status, consent_date, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(uid) DO UPDATE SET
            display_name = excluded.display_name,
            email = excluded.email,
            bio = excluded.bio,
            institution = excluded.institution,
            role = excluded.role,
            consent_status = excluded.consent_status,
            consent_date = excluded.consent_date,
            updated_at = excluded.updated_at`,
		p.UID, p.DisplayName, p.Email, p.Bio, p.Institution, p.Role, string(p.ConsentStatus), nullTime(p.ConsentDate), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetProfileConsent(ctx context.Context, uid string, status ConsentStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET consent_status = ?, consent_date = ?, updated_at = ? WHERE uid = ?",
		string(status), at, s.now(), uid)
	if err != nil {
		return fmt.Errorf("failed to update profile consent: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Consent form methods
func (s *SQLiteStore) SaveConsentForm(ctx context.Context, f *ConsentForm) error {
	now := s.now()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO consent_forms (user_id, email, display_name, status, consent_date, survey_link, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, f.Email, f.DisplayName, string(f.Status), nullTime(f.ConsentDate), f.SurveyLink, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save consent form: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConsentForm(ctx context.Context, uid string) (*ConsentForm, error) {
	var f ConsentForm
	var status string
	var consentDate sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, email, display_name, status, consent_date, survey_link, created_at, updated_at FROM consent_forms WHERE user_id = ?", uid).
		Scan(&f.UserID, &f.Email, &f.DisplayName, &status, &consentDate, &f.SurveyLink, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query consent form: %w", err)
	}
	f.Status = ConsentStatus(status)
	if consentDate.Valid {
		f.ConsentDate = &consentDate.Time
	}
	return &f, nil
}

func (s *SQLiteStore) UpdateConsentForm(ctx context.Context, uid string, status ConsentStatus, surveyLink string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE consent_forms SET status = ?, consent_date = ?, survey_link = ?, updated_at = ? WHERE user_id = ?",
		string(status), at, surveyLink, s.now(), uid)
	if err != nil {
		return fmt.Errorf("failed to update consent form: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
