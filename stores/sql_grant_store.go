package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/carevault/accessctl"
)

// SQLGrantStore persists permission grants. Expiry and permission-level
// checks happen in Go so driver-specific time handling stays in one place.
type SQLGrantStore struct {
	db *squealx.DB
}

func NewSQLGrantStore(db *squealx.DB) *SQLGrantStore {
	return &SQLGrantStore{db: db}
}

const grantColumns = `id, record_id, patient_id, doctor_id, permission, granted_by, granted_at, expires_at, is_active`

func (s *SQLGrantStore) HasActiveGrant(ctx context.Context, principalID, recordID string, permission accessctl.Operation) (bool, error) {
	grants, err := s.grantsFor(ctx, principalID, recordID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if !g.IsActive || g.IsExpired() {
			continue
		}
		if accessctl.PermissionSatisfies(g.Permission, permission) {
			return true, nil
		}
	}
	return false, nil
}

func (s *SQLGrantStore) grantsFor(ctx context.Context, principalID, recordID string) ([]*accessctl.PermissionGrant, error) {
	q := `SELECT ` + grantColumns + ` FROM permission_grants WHERE record_id = :record_id AND (patient_id = :principal_id OR doctor_id = :principal_id)`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"record_id":    recordID,
		"principal_id": principalID,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*accessctl.PermissionGrant, 0)
	for r.Next() {
		var g accessctl.PermissionGrant
		var activeInt int
		var grantedRaw, expiresRaw interface{}
		if err := r.Scan(&g.ID, &g.RecordID, &g.PatientID, &g.DoctorID, &g.Permission, &g.GrantedBy, &grantedRaw, &expiresRaw, &activeInt); err != nil {
			return nil, err
		}
		g.IsActive = activeInt != 0
		g.GrantedAt = scanTime(grantedRaw)
		if expiresRaw != nil {
			g.ExpiresAt = scanTime(expiresRaw)
		}
		out = append(out, &g)
	}
	return out, nil
}

// GrantPermission inserts a grant row.
func (s *SQLGrantStore) GrantPermission(ctx context.Context, g *accessctl.PermissionGrant) error {
	q := `INSERT INTO permission_grants(` + grantColumns + `) VALUES(:id, :record_id, :patient_id, :doctor_id, :permission, :granted_by, :granted_at, :expires_at, :is_active)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         g.ID,
		"record_id":  g.RecordID,
		"patient_id": g.PatientID,
		"doctor_id":  g.DoctorID,
		"permission": string(g.Permission),
		"granted_by": g.GrantedBy,
		"granted_at": g.GrantedAt,
		"expires_at": sqlNullTimeOrNil(g.ExpiresAt),
		"is_active":  boolToInt(g.IsActive),
	})
	return err
}

// RevokePermission deactivates a grant without destroying its history.
func (s *SQLGrantStore) RevokePermission(ctx context.Context, id string) error {
	q := `UPDATE permission_grants SET is_active = 0 WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}
