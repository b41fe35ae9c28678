package state

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/veilnet/veil/internal/model"
)

// --- node_sni_assignments ---

// GetAssignment returns the node's current binding, or ErrUnassigned.
func (r *Repo) GetAssignment(nodeID string) (model.NodeSniAssignment, error) {
	row := r.db.QueryRow(`
		SELECT node_id, domain_id, status, assigned_at_ns, updated_at_ns
		FROM node_sni_assignments WHERE node_id = ?
	`, nodeID)
	var a model.NodeSniAssignment
	err := row.Scan(&a.NodeID, &a.DomainID, &a.Status, &a.AssignedAtNs, &a.UpdatedAtNs)
	if err == sql.ErrNoRows {
		return model.NodeSniAssignment{}, ErrUnassigned
	}
	if err != nil {
		return model.NodeSniAssignment{}, fmt.Errorf("scan assignment %s: %w", nodeID, err)
	}
	return a, nil
}

// CountAssignments returns how many nodes are currently bound to a domain.
func (r *Repo) CountAssignments(domainID string) (int, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM node_sni_assignments WHERE domain_id = ? AND status = ?",
		domainID, model.AssignmentStatusAssigned,
	).Scan(&n)
	return n, err
}

// ListAssignmentsForDomain returns every node currently bound to a domain.
func (r *Repo) ListAssignmentsForDomain(domainID string) ([]model.NodeSniAssignment, error) {
	rows, err := r.db.Query(`
		SELECT node_id, domain_id, status, assigned_at_ns, updated_at_ns
		FROM node_sni_assignments WHERE domain_id = ? AND status = ?
	`, domainID, model.AssignmentStatusAssigned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.NodeSniAssignment
	for rows.Next() {
		var a model.NodeSniAssignment
		if err := rows.Scan(&a.NodeID, &a.DomainID, &a.Status, &a.AssignedAtNs, &a.UpdatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// UpsertAssignment binds nodeID to domainID, re-verifying inside the same
// transaction that the domain's bound-node count (excluding this node) is
// still below capacity. Returns ErrAtCapacity when the commit-time check
// fails so the caller can retry selection with the next candidate.
//
// When logEntry is non-nil the swap is a rotation and the entry is appended
// in the same transaction; assignment update and audit record are atomic.
func (r *Repo) UpsertAssignment(nodeID, domainID string, capacity int, nowNs int64, logEntry *model.SniRotationLogEntry) (model.NodeSniAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return model.NodeSniAssignment{}, fmt.Errorf("begin assignment tx: %w", err)
	}
	defer tx.Rollback()

	var bound int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM node_sni_assignments
		WHERE domain_id = ? AND status = ? AND node_id != ?
	`, domainID, model.AssignmentStatusAssigned, nodeID).Scan(&bound)
	if err != nil {
		return model.NodeSniAssignment{}, fmt.Errorf("count bound nodes for %s: %w", domainID, err)
	}
	if capacity > 0 && bound >= capacity {
		return model.NodeSniAssignment{}, ErrAtCapacity
	}

	a := model.NodeSniAssignment{
		NodeID:       nodeID,
		DomainID:     domainID,
		Status:       model.AssignmentStatusAssigned,
		AssignedAtNs: nowNs,
		UpdatedAtNs:  nowNs,
	}
	_, err = tx.Exec(`
		INSERT INTO node_sni_assignments (node_id, domain_id, status, assigned_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			domain_id     = excluded.domain_id,
			status        = excluded.status,
			updated_at_ns = excluded.updated_at_ns
	`, a.NodeID, a.DomainID, a.Status, a.AssignedAtNs, a.UpdatedAtNs)
	if err != nil {
		return model.NodeSniAssignment{}, fmt.Errorf("upsert assignment %s: %w", nodeID, err)
	}

	if logEntry != nil {
		if logEntry.ID == "" {
			logEntry.ID = uuid.NewString()
		}
		_, err = tx.Exec(`
			INSERT INTO sni_rotation_log (id, node_id, node_name, old_sni, new_sni, reason, rotated_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, logEntry.ID, logEntry.NodeID, logEntry.NodeName,
			logEntry.OldSni, logEntry.NewSni, logEntry.Reason, logEntry.RotatedAtNs)
		if err != nil {
			return model.NodeSniAssignment{}, fmt.Errorf("append rotation log for %s: %w", nodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NodeSniAssignment{}, fmt.Errorf("commit assignment %s: %w", nodeID, err)
	}
	return a, nil
}

// DeleteAssignment unbinds a node. Missing assignments are a no-op:
// unbinding is idempotent.
func (r *Repo) DeleteAssignment(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("DELETE FROM node_sni_assignments WHERE node_id = ?", nodeID)
	return err
}

// --- sni_rotation_log ---

// ListRotationLog returns rotation entries most recent first, optionally
// filtered to one node. Entries are append-only; there is no mutation path.
func (r *Repo) ListRotationLog(nodeID string) ([]model.SniRotationLogEntry, error) {
	query := `
		SELECT id, node_id, node_name, old_sni, new_sni, reason, rotated_at_ns
		FROM sni_rotation_log
	`
	var args []any
	if nodeID != "" {
		query += " WHERE node_id = ?"
		args = append(args, nodeID)
	}
	query += " ORDER BY rotated_at_ns DESC, id DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.SniRotationLogEntry
	for rows.Next() {
		var e model.SniRotationLogEntry
		if err := rows.Scan(&e.ID, &e.NodeID, &e.NodeName, &e.OldSni, &e.NewSni, &e.Reason, &e.RotatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
