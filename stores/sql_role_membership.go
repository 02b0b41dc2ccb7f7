package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/carevault/accessctl"
)

// SQLRoleMembershipStore keeps (subject, role) pairs in SQL (squealx).
type SQLRoleMembershipStore struct {
	db *squealx.DB
}

func NewSQLRoleMembershipStore(db *squealx.DB) *SQLRoleMembershipStore {
	return &SQLRoleMembershipStore{db: db}
}

func (s *SQLRoleMembershipStore) AssignRole(ctx context.Context, subjectID, role string) error {
	q := `INSERT OR IGNORE INTO role_members(subject_id, role) VALUES(:subject_id, :role)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"subject_id": subjectID, "role": role})
	return err
}

func (s *SQLRoleMembershipStore) RevokeRole(ctx context.Context, subjectID, role string) error {
	q := `DELETE FROM role_members WHERE subject_id = :subject_id AND role = :role`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"subject_id": subjectID, "role": role})
	return err
}

func (s *SQLRoleMembershipStore) ListMemberships(ctx context.Context) ([]accessctl.RoleMembership, error) {
	q := `SELECT subject_id, role FROM role_members`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]accessctl.RoleMembership, 0)
	for r.Next() {
		var m accessctl.RoleMembership
		if err := r.Scan(&m.SubjectID, &m.Role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
