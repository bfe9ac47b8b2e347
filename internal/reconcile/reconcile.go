// Package reconcile repairs what non-transactional user deletion and
// creation can leave behind: rows that point at identities which no longer
// exist, and identities that never received a role.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/courier-backoffice/internal/observability"
	"github.com/jmoiron/sqlx"
)

const (
	KindOrphanRole       = "role_without_identity"
	KindOrphanPermission = "permission_without_identity"
	KindOrphanProfile    = "profile_without_identity"
	KindUnassigned       = "identity_without_role"
)

const (
	orphanRolesQuery = `
SELECT ur.user_id, ur.role
FROM user_roles ur
LEFT JOIN identities i ON i.id = ur.user_id
WHERE i.id IS NULL
ORDER BY ur.user_id, ur.role`

	orphanPermissionsQuery = `
SELECT sp.user_id, sp.section
FROM section_permissions sp
LEFT JOIN identities i ON i.id = sp.user_id
WHERE i.id IS NULL
ORDER BY sp.user_id, sp.section`

	orphanProfilesQuery = `
SELECT p.id
FROM profiles p
LEFT JOIN identities i ON i.id = p.id
WHERE i.id IS NULL
ORDER BY p.id`

	unassignedQuery = `
SELECT i.id
FROM identities i
WHERE NOT EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = i.id)
ORDER BY i.id`
)

type OrphanRole struct {
	UserID string `db:"user_id" json:"user_id"`
	Role   string `db:"role" json:"role"`
}

type OrphanPermission struct {
	UserID  string `db:"user_id" json:"user_id"`
	Section string `db:"section" json:"section"`
}

// Report describes one run. Deleted counts are zero unless the job was
// created with deletion enabled.
type Report struct {
	StartedAt         time.Time          `json:"started_at"`
	FinishedAt        time.Time          `json:"finished_at"`
	OrphanRoles       []OrphanRole       `json:"orphan_roles"`
	OrphanPermissions []OrphanPermission `json:"orphan_permissions"`
	OrphanProfiles    []string           `json:"orphan_profiles"`
	Unassigned        []string           `json:"unassigned_identities"`
	DeletedRoles      int64              `json:"deleted_roles"`
	DeletedPerms      int64              `json:"deleted_permissions"`
}

func (r *Report) Clean() bool {
	return len(r.OrphanRoles) == 0 && len(r.OrphanPermissions) == 0 &&
		len(r.OrphanProfiles) == 0 && len(r.Unassigned) == 0
}

type Job struct {
	db            *sqlx.DB
	deleteOrphans bool
	metrics       *observability.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

func NewJob(db *sqlx.DB, deleteOrphans bool, metrics *observability.Metrics, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		db:            db,
		deleteOrphans: deleteOrphans,
		metrics:       metrics,
		logger:        logger.With("component", "reconcile"),
		now:           time.Now,
	}
}

// Run scans for orphans once. Profiles and role-less identities are only
// reported; they need a human decision.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	report, err := j.run(ctx)
	if err != nil {
		j.metrics.ReconcileRun(observability.OutcomeFailure)
		j.logger.Error("reconcile run failed", "error", err)
		return nil, err
	}
	j.metrics.ReconcileRun(observability.OutcomeSuccess)
	j.metrics.ReconcileOrphans(KindOrphanRole, len(report.OrphanRoles))
	j.metrics.ReconcileOrphans(KindOrphanPermission, len(report.OrphanPermissions))
	j.metrics.ReconcileOrphans(KindOrphanProfile, len(report.OrphanProfiles))
	j.metrics.ReconcileOrphans(KindUnassigned, len(report.Unassigned))
	return report, nil
}

func (j *Job) run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: j.now().UTC()}

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.SelectContext(ctx, &report.OrphanRoles, orphanRolesQuery); err != nil {
		return nil, fmt.Errorf("find orphan roles: %w", err)
	}
	if err := tx.SelectContext(ctx, &report.OrphanPermissions, orphanPermissionsQuery); err != nil {
		return nil, fmt.Errorf("find orphan permissions: %w", err)
	}
	if err := tx.SelectContext(ctx, &report.OrphanProfiles, orphanProfilesQuery); err != nil {
		return nil, fmt.Errorf("find orphan profiles: %w", err)
	}
	if err := tx.SelectContext(ctx, &report.Unassigned, unassignedQuery); err != nil {
		return nil, fmt.Errorf("find identities without role: %w", err)
	}

	if j.deleteOrphans {
		report.DeletedRoles, err = deleteForUsers(ctx, tx, "user_roles", roleUserIDs(report.OrphanRoles))
		if err != nil {
			return nil, err
		}
		report.DeletedPerms, err = deleteForUsers(ctx, tx, "section_permissions", permissionUserIDs(report.OrphanPermissions))
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	report.FinishedAt = j.now().UTC()

	for _, id := range report.Unassigned {
		j.logger.Warn("identity has no role", "user_id", id)
	}
	for _, id := range report.OrphanProfiles {
		j.logger.Warn("profile has no identity", "user_id", id)
	}
	j.logger.Info("reconcile finished",
		"orphan_roles", len(report.OrphanRoles),
		"orphan_permissions", len(report.OrphanPermissions),
		"orphan_profiles", len(report.OrphanProfiles),
		"unassigned", len(report.Unassigned),
		"deleted_roles", report.DeletedRoles,
		"deleted_permissions", report.DeletedPerms)
	return report, nil
}

func deleteForUsers(ctx context.Context, tx *sqlx.Tx, table string, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In("DELETE FROM "+table+" WHERE user_id IN (?)", userIDs)
	if err != nil {
		return 0, fmt.Errorf("build %s delete: %w", table, err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete orphan %s: %w", table, err)
	}
	return res.RowsAffected()
}

func roleUserIDs(rows []OrphanRole) []string {
	seen := map[string]bool{}
	var ids []string
	for _, r := range rows {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			ids = append(ids, r.UserID)
		}
	}
	return ids
}

func permissionUserIDs(rows []OrphanPermission) []string {
	seen := map[string]bool{}
	var ids []string
	for _, r := range rows {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			ids = append(ids, r.UserID)
		}
	}
	return ids
}
