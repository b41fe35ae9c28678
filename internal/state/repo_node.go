package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/veilnet/veil/internal/model"
)

// --- relay_nodes ---

func scanNode(row interface{ Scan(...any) error }) (model.RelayNode, error) {
	var n model.RelayNode
	var capsJSON string
	err := row.Scan(&n.ID, &n.Name, &n.Address, &n.Port, &capsJSON,
		&n.RelayAuthMode, &n.CreatedAtNs, &n.UpdatedAtNs)
	if err != nil {
		return model.RelayNode{}, err
	}
	if err := json.Unmarshal([]byte(capsJSON), &n.TransportCaps); err != nil {
		return model.RelayNode{}, fmt.Errorf("unmarshal transport caps for %s: %w", n.ID, err)
	}
	return n, nil
}

// CreateNode registers a relay node identity. Names are unique;
// ErrDuplicateNode is returned on collision.
func (r *Repo) CreateNode(n model.RelayNode, nowNs int64) (model.RelayNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var exists int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM relay_nodes WHERE name = ?", n.Name).Scan(&exists); err != nil {
		return model.RelayNode{}, fmt.Errorf("check node name %q: %w", n.Name, err)
	}
	if exists > 0 {
		return model.RelayNode{}, ErrDuplicateNode
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.TransportCaps == nil {
		n.TransportCaps = []string{}
	}
	n.CreatedAtNs = nowNs
	n.UpdatedAtNs = nowNs

	capsJSON, err := json.Marshal(n.TransportCaps)
	if err != nil {
		return model.RelayNode{}, fmt.Errorf("marshal transport caps: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO relay_nodes (id, name, address, port, transport_caps_json,
		                         relay_auth_mode, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Name, n.Address, n.Port, string(capsJSON), n.RelayAuthMode, n.CreatedAtNs, n.UpdatedAtNs)
	if err != nil {
		return model.RelayNode{}, fmt.Errorf("insert node %q: %w", n.Name, err)
	}
	return n, nil
}

// GetNode returns a relay node by ID, or ErrNodeNotFound.
func (r *Repo) GetNode(id string) (model.RelayNode, error) {
	row := r.db.QueryRow(`
		SELECT id, name, address, port, transport_caps_json, relay_auth_mode,
		       created_at_ns, updated_at_ns
		FROM relay_nodes WHERE id = ?
	`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return model.RelayNode{}, ErrNodeNotFound
	}
	if err != nil {
		return model.RelayNode{}, fmt.Errorf("scan node %s: %w", id, err)
	}
	return n, nil
}

// ListNodes returns all relay nodes ordered by name.
func (r *Repo) ListNodes() ([]model.RelayNode, error) {
	rows, err := r.db.Query(`
		SELECT id, name, address, port, transport_caps_json, relay_auth_mode,
		       created_at_ns, updated_at_ns
		FROM relay_nodes ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.RelayNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// UpdateNode persists mutable node fields (name, address, port, caps, auth mode).
func (r *Repo) UpdateNode(n model.RelayNode, nowNs int64) (model.RelayNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.TransportCaps == nil {
		n.TransportCaps = []string{}
	}
	capsJSON, err := json.Marshal(n.TransportCaps)
	if err != nil {
		return model.RelayNode{}, fmt.Errorf("marshal transport caps: %w", err)
	}
	n.UpdatedAtNs = nowNs

	res, err := r.db.Exec(`
		UPDATE relay_nodes
		SET name = ?, address = ?, port = ?, transport_caps_json = ?,
		    relay_auth_mode = ?, updated_at_ns = ?
		WHERE id = ?
	`, n.Name, n.Address, n.Port, string(capsJSON), n.RelayAuthMode, n.UpdatedAtNs, n.ID)
	if err != nil {
		return model.RelayNode{}, fmt.Errorf("update node %s: %w", n.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return model.RelayNode{}, ErrNodeNotFound
	}
	return n, nil
}

// DeleteNode removes a relay node plus its assignment and key material.
// The rotation log is retained for audit.
func (r *Repo) DeleteNode(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete node tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM relay_nodes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNodeNotFound
	}
	if _, err := tx.Exec("DELETE FROM node_sni_assignments WHERE node_id = ?", id); err != nil {
		return fmt.Errorf("delete assignment for node %s: %w", id, err)
	}
	if _, err := tx.Exec("DELETE FROM node_key_material WHERE node_id = ?", id); err != nil {
		return fmt.Errorf("delete key material for node %s: %w", id, err)
	}
	return tx.Commit()
}
