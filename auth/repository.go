package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"htlcflow/db"
)

var (
	// ErrPartyNotFound signals that the party does not exist.
	ErrPartyNotFound = errors.New("auth: party not found")
	// ErrDuplicateHandle signals that the handle is already registered.
	ErrDuplicateHandle = errors.New("auth: handle already exists")
)

// Repository handles party persistence.
type Repository interface {
	CreateParty(ctx context.Context, params CreatePartyParams) (Party, error)
	GetPartyByHandle(ctx context.Context, handle string) (Party, error)
	GetPartyByID(ctx context.Context, partyID string) (Party, error)
}

// CreatePartyParams contains write parameters for creating parties.
type CreatePartyParams struct {
	Handle       string
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

// NewRepository creates a PostgreSQL-backed party repository.
func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateParty inserts a new party with hashed password.
func (r *PGRepository) CreateParty(ctx context.Context, params CreatePartyParams) (Party, error) {
	const insertSQL = `
		INSERT INTO parties (handle, password_hash)
		VALUES ($1, $2)
		RETURNING id::text, handle, password_hash, created_at
	`

	party, err := scanParty(r.pool.QueryRow(ctx, insertSQL, params.Handle, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Party{}, ErrDuplicateHandle
		}
		return Party{}, fmt.Errorf("auth: create party: %w", err)
	}

	return party, nil
}

// GetPartyByHandle retrieves a party by handle.
func (r *PGRepository) GetPartyByHandle(ctx context.Context, handle string) (Party, error) {
	const selectSQL = `
		SELECT id::text, handle, password_hash, created_at
		FROM parties
		WHERE handle = $1
	`

	party, err := scanParty(r.pool.QueryRow(ctx, selectSQL, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, fmt.Errorf("auth: get party by handle: %w", err)
	}

	return party, nil
}

// GetPartyByID retrieves a party by ID.
func (r *PGRepository) GetPartyByID(ctx context.Context, partyID string) (Party, error) {
	if _, err := uuid.Parse(partyID); err != nil {
		return Party{}, ErrPartyNotFound
	}

	const selectSQL = `
		SELECT id::text, handle, password_hash, created_at
		FROM parties
		WHERE id = $1
	`

	party, err := scanParty(r.pool.QueryRow(ctx, selectSQL, partyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, fmt.Errorf("auth: get party by id: %w", err)
	}

	return party, nil
}

func scanParty(row pgx.Row) (Party, error) {
	var party Party
	if err := row.Scan(&party.ID, &party.Handle, &party.PasswordHash, &party.CreatedAt); err != nil {
		return Party{}, err
	}
	return party, nil
}

// MemoryRepository is an in-process Repository keyed case-insensitively by handle.
type MemoryRepository struct {
	mu       sync.RWMutex
	byHandle map[string]Party
	byID     map[string]Party
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byHandle: make(map[string]Party),
		byID:     make(map[string]Party),
	}
}

func (m *MemoryRepository) CreateParty(_ context.Context, params CreatePartyParams) (Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(params.Handle)
	if _, exists := m.byHandle[key]; exists {
		return Party{}, ErrDuplicateHandle
	}

	party := Party{
		ID:           uuid.NewString(),
		Handle:       params.Handle,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.byHandle[key] = party
	m.byID[party.ID] = party
	return party, nil
}

func (m *MemoryRepository) GetPartyByHandle(_ context.Context, handle string) (Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	party, ok := m.byHandle[strings.ToLower(handle)]
	if !ok {
		return Party{}, ErrPartyNotFound
	}
	return party, nil
}

func (m *MemoryRepository) GetPartyByID(_ context.Context, partyID string) (Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	party, ok := m.byID[partyID]
	if !ok {
		return Party{}, ErrPartyNotFound
	}
	return party, nil
}
