package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/carevault/accessctl"
)

// SQLRecordStore answers ownership lookups against the medical_records table.
type SQLRecordStore struct {
	db *squealx.DB
}

func NewSQLRecordStore(db *squealx.DB) *SQLRecordStore {
	return &SQLRecordStore{db: db}
}

func (s *SQLRecordStore) OwnerOf(ctx context.Context, recordID string) (string, error) {
	q := `SELECT patient_id FROM medical_records WHERE record_id = :record_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"record_id": recordID})
	if err != nil {
		return "", err
	}
	defer r.Close()
	if !r.Next() {
		return "", accessctl.ErrRecordNotFound
	}
	var patientID string
	if err := r.Scan(&patientID); err != nil {
		return "", err
	}
	return patientID, nil
}

// UpsertRecord registers or re-points a record's ownership row.
func (s *SQLRecordStore) UpsertRecord(ctx context.Context, rec *accessctl.MedicalRecord) error {
	q := `INSERT INTO medical_records(record_id, patient_id, creator_id, created_at)
VALUES(:record_id, :patient_id, :creator_id, :created_at)
ON CONFLICT(record_id) DO UPDATE SET patient_id = :patient_id, creator_id = :creator_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"record_id":  rec.RecordID,
		"patient_id": rec.PatientID,
		"creator_id": rec.CreatorID,
		"created_at": rec.CreatedAt,
	})
	return err
}

// DeleteRecord removes a record's ownership row.
func (s *SQLRecordStore) DeleteRecord(ctx context.Context, recordID string) error {
	q := `DELETE FROM medical_records WHERE record_id = :record_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"record_id": recordID})
	return err
}
