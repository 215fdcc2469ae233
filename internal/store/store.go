package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mweller/arcadecrm/internal/access"
)

// Store is the read side this subsystem needs from the CRM schema: clients,
// memberships, check-ins, access links and group mappings. It issues
// single-row and single-query reads only; schema ownership is elsewhere.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ExpiringMembership is a membership ending inside the scan window, joined
// with the client contact details the reminder needs.
type ExpiringMembership struct {
	MembershipID string
	ClientID     string
	Name         string
	Phone        string
	Email        string
	PlanCode     string
	ExpiresOn    time.Time
}

// ExpiringMemberships returns memberships whose end date falls in [from, to].
func (s *Store) ExpiringMemberships(ctx context.Context, from, to time.Time) ([]ExpiringMembership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.client_id, c.full_name, COALESCE(c.phone, ''), COALESCE(c.email, ''),
		       COALESCE(m.plan_code, ''), m.ends_on
		FROM arcadecrm.memberships m
		JOIN arcadecrm.clients c ON c.id = m.client_id
		WHERE m.ends_on >= $1 AND m.ends_on <= $2
		ORDER BY m.ends_on`, from, to)
	if err != nil {
		return nil, fmt.Errorf("expiring memberships: %w", err)
	}
	defer rows.Close()

	var out []ExpiringMembership
	for rows.Next() {
		var m ExpiringMembership
		if err := rows.Scan(&m.MembershipID, &m.ClientID, &m.Name, &m.Phone, &m.Email, &m.PlanCode, &m.ExpiresOn); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClientContact is the contact surface of a client row.
type ClientContact struct {
	ClientID string
	Name     string
	Phone    string
	Email    string
}

// IdleActiveClients returns clients holding an active membership today with no
// check-in since monthStart.
func (s *Store) IdleActiveClients(ctx context.Context, monthStart, today time.Time) ([]ClientContact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.full_name, COALESCE(c.phone, ''), COALESCE(c.email, '')
		FROM arcadecrm.clients c
		WHERE EXISTS (
			SELECT 1 FROM arcadecrm.memberships m
			WHERE m.client_id = c.id AND m.starts_on <= $2 AND m.ends_on >= $2
		)
		AND NOT EXISTS (
			SELECT 1 FROM arcadecrm.checkins k
			WHERE k.client_id = c.id AND k.happened_at >= $1
		)
		ORDER BY c.id`, monthStart, today)
	if err != nil {
		return nil, fmt.Errorf("idle active clients: %w", err)
	}
	defer rows.Close()

	var out []ClientContact
	for rows.Next() {
		var c ClientContact
		if err := rows.Scan(&c.ClientID, &c.Name, &c.Phone, &c.Email); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GroupMapping returns the external group mapping for the given key, or nil
// when it has not been configured.
func (s *Store) GroupMapping(ctx context.Context, key access.MapKey) (*access.GroupMapping, error) {
	var m access.GroupMapping
	m.Key = key
	err := s.pool.QueryRow(ctx, `
		SELECT external_group_id, COALESCE(display_name, '')
		FROM arcadecrm.group_mappings WHERE map_key=$1`, string(key),
	).Scan(&m.GroupID, &m.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("group mapping %s: %w", key, err)
	}
	return &m, nil
}

// AccessLink returns the external user id linked to a client, or "" when the
// client has no link.
func (s *Store) AccessLink(ctx context.Context, clientID string) (string, error) {
	var userID string
	err := s.pool.QueryRow(ctx, `
		SELECT external_user_id FROM arcadecrm.access_links WHERE client_id=$1`, clientID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("access link for %s: %w", clientID, err)
	}
	return userID, nil
}

// LinkedClients returns every client with an external link together with the
// status the membership state machine computes: "active" when any active
// membership exists, "expired" otherwise.
func (s *Store) LinkedClients(ctx context.Context) ([]access.LinkedClient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.client_id, l.external_user_id,
		       CASE WHEN EXISTS (
		           SELECT 1 FROM arcadecrm.memberships m
		           WHERE m.client_id = l.client_id AND m.status = 'active'
		       ) THEN 'active' ELSE 'expired' END
		FROM arcadecrm.access_links l
		ORDER BY l.client_id`)
	if err != nil {
		return nil, fmt.Errorf("linked clients: %w", err)
	}
	defer rows.Close()

	var out []access.LinkedClient
	for rows.Next() {
		var lc access.LinkedClient
		if err := rows.Scan(&lc.ClientID, &lc.UserID, &lc.Status); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}
