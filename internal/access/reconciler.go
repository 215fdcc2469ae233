package access

import (
	"context"
	"fmt"

	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/metrics"
)

// MapKey identifies the two external group mappings. Exactly these two exist.
type MapKey string

const (
	MapActive  MapKey = "active"
	MapExpired MapKey = "expired"
)

// StatusActive is the membership status that maps a client into the active
// group; every other status maps into the expired group.
const StatusActive = "active"

// GroupMapping links an internal status key to an external group.
type GroupMapping struct {
	Key     MapKey
	GroupID string
	Label   string
}

// LinkedClient is a client with an external account link and their computed
// membership status.
type LinkedClient struct {
	ClientID string
	UserID   string
	Status   string
}

// GroupAPI is the slice of Client the reconciler drives.
type GroupAPI interface {
	AddUserToGroup(ctx context.Context, userID, groupID string) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID string) error
}

// Directory resolves mappings and links from the relational store.
type Directory interface {
	// GroupMapping returns nil without error when the mapping is absent.
	GroupMapping(ctx context.Context, key MapKey) (*GroupMapping, error)
	// AccessLink returns the external user id, or "" when the client is unlinked.
	AccessLink(ctx context.Context, clientID string) (string, error)
	LinkedClients(ctx context.Context) ([]LinkedClient, error)
}

// Reconciler converges a client's external group memberships with their
// internal membership status.
type Reconciler struct {
	api GroupAPI
	dir Directory
	log *logging.Logger
}

func NewReconciler(api GroupAPI, dir Directory) *Reconciler {
	return &Reconciler{
		api: api,
		dir: dir,
		log: logging.New("group-reconciler"),
	}
}

// Reconcile places the client's external account in the group matching status
// and evicts it from the opposite one. Add and remove are independent
// best-effort legs: either may fail (the external system may already be in
// the target state) without aborting the other. A missing group mapping is a
// hard precondition failure: logged, no HTTP calls, no partial mutation.
// Infrastructure errors looking up the link or mappings are returned so the
// enclosing job can retry.
func (r *Reconciler) Reconcile(ctx context.Context, clientID, status string) error {
	userID, err := r.dir.AccessLink(ctx, clientID)
	if err != nil {
		return fmt.Errorf("lookup access link for client %s: %w", clientID, err)
	}
	if userID == "" {
		// Linking is optional; most clients never have one.
		r.log.WithContext(ctx).WithClient(clientID).Debug("no external account link, skipping")
		return nil
	}

	active, expired, err := r.mappings(ctx)
	if err != nil {
		return err
	}
	if active == nil || expired == nil {
		r.log.WithContext(ctx).WithClient(clientID).Error("group mappings not configured, aborting reconciliation")
		return nil
	}

	target, evict := expired, active
	if status == StatusActive {
		target, evict = active, expired
	}

	if err := r.api.AddUserToGroup(ctx, userID, target.GroupID); err != nil {
		metrics.RecordReconcileLeg("add", "error")
		r.log.WithContext(ctx).WithClient(clientID).WithError(err).
			WithField("group", target.Label).Warn("add leg failed")
	} else {
		metrics.RecordReconcileLeg("add", "ok")
	}

	if err := r.api.RemoveUserFromGroup(ctx, userID, evict.GroupID); err != nil {
		metrics.RecordReconcileLeg("remove", "error")
		r.log.WithContext(ctx).WithClient(clientID).WithError(err).
			WithField("group", evict.Label).Warn("remove leg failed")
	} else {
		metrics.RecordReconcileLeg("remove", "ok")
	}

	r.log.WithContext(ctx).WithClient(clientID).WithFields(map[string]any{
		"status": status,
		"group":  target.Label,
	}).Info("external groups reconciled")
	return nil
}

// SyncAll reconciles every linked client. Missing mappings abort the whole
// run before any HTTP call; one client's failure never stops the rest.
func (r *Reconciler) SyncAll(ctx context.Context) error {
	active, expired, err := r.mappings(ctx)
	if err != nil {
		return err
	}
	if active == nil || expired == nil {
		return fmt.Errorf("group mappings not configured (active=%v expired=%v)", active != nil, expired != nil)
	}

	clients, err := r.dir.LinkedClients(ctx)
	if err != nil {
		return fmt.Errorf("list linked clients: %w", err)
	}

	for _, lc := range clients {
		if err := r.Reconcile(ctx, lc.ClientID, lc.Status); err != nil {
			r.log.WithContext(ctx).WithClient(lc.ClientID).WithError(err).Error("reconcile failed, continuing")
		}
	}

	r.log.WithContext(ctx).WithField("clients", len(clients)).Info("group sync complete")
	return nil
}

func (r *Reconciler) mappings(ctx context.Context) (*GroupMapping, *GroupMapping, error) {
	active, err := r.dir.GroupMapping(ctx, MapActive)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup active group mapping: %w", err)
	}
	expired, err := r.dir.GroupMapping(ctx, MapExpired)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup expired group mapping: %w", err)
	}
	return active, expired, nil
}
