package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

// InsertAuditEntry appends one audit row. Callers treat failures as
// non-fatal; auditing never blocks the mutation it describes.
func (s *Store) InsertAuditEntry(ctx context.Context, e model.AuditEntry, at time.Time) error {
	meta := e.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, at, action, actor_uid, actor_role, target_collection, target_id,
			meta, http_method, http_url, ip, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		uuid.NewString(), at, e.Action, e.ActorUID, e.ActorRole, e.TargetCol, e.TargetID,
		metaJSON, e.Method, e.URL, e.IP, e.UserAgent)
	return err
}
