package state

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/veilnet/veil/internal/model"
)

// --- node_key_material ---
//
// Private keys are stored hex-encoded in this table and are decoded only
// into model.NodeKeyMaterial.PrivateKey, which is excluded from JSON.
// No query in this file ever joins the private key column into a list view.

// GetKeyMaterial returns the node's key material, or ErrNotProvisioned.
func (r *Repo) GetKeyMaterial(nodeID string) (model.NodeKeyMaterial, error) {
	row := r.db.QueryRow(`
		SELECT node_id, private_key_hex, public_key, client_uuid, short_ids_json,
		       generation, created_at_ns, rotated_at_ns
		FROM node_key_material WHERE node_id = ?
	`, nodeID)

	var km model.NodeKeyMaterial
	var privHex, shortIDsJSON string
	err := row.Scan(&km.NodeID, &privHex, &km.PublicKey, &km.ClientUUID,
		&shortIDsJSON, &km.Generation, &km.CreatedAtNs, &km.RotatedAtNs)
	if err == sql.ErrNoRows {
		return model.NodeKeyMaterial{}, ErrNotProvisioned
	}
	if err != nil {
		return model.NodeKeyMaterial{}, fmt.Errorf("scan key material %s: %w", nodeID, err)
	}
	if km.PrivateKey, err = hex.DecodeString(privHex); err != nil {
		return model.NodeKeyMaterial{}, fmt.Errorf("decode private key for %s: %w", nodeID, err)
	}
	if err := json.Unmarshal([]byte(shortIDsJSON), &km.ShortIDs); err != nil {
		return model.NodeKeyMaterial{}, fmt.Errorf("unmarshal short ids for %s: %w", nodeID, err)
	}
	return km, nil
}

// InsertKeyMaterial stores freshly provisioned material. Provisioning is
// once-only: ErrAlreadyProvisioned when a row exists (use ReplaceKeyMaterial).
func (r *Repo) InsertKeyMaterial(km model.NodeKeyMaterial) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var exists int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM node_key_material WHERE node_id = ?", km.NodeID).Scan(&exists); err != nil {
		return fmt.Errorf("check key material %s: %w", km.NodeID, err)
	}
	if exists > 0 {
		return ErrAlreadyProvisioned
	}

	shortIDsJSON, err := json.Marshal(km.ShortIDs)
	if err != nil {
		return fmt.Errorf("marshal short ids: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO node_key_material (node_id, private_key_hex, public_key, client_uuid,
		                               short_ids_json, generation, created_at_ns, rotated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, km.NodeID, hex.EncodeToString(km.PrivateKey), km.PublicKey, km.ClientUUID,
		string(shortIDsJSON), km.Generation, km.CreatedAtNs, km.RotatedAtNs)
	if err != nil {
		return fmt.Errorf("insert key material %s: %w", km.NodeID, err)
	}
	return nil
}

// ReplaceKeyMaterial overwrites existing material during explicit
// regeneration. ErrNotProvisioned when no row exists yet.
func (r *Repo) ReplaceKeyMaterial(km model.NodeKeyMaterial) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	shortIDsJSON, err := json.Marshal(km.ShortIDs)
	if err != nil {
		return fmt.Errorf("marshal short ids: %w", err)
	}
	res, err := r.db.Exec(`
		UPDATE node_key_material
		SET private_key_hex = ?, public_key = ?, client_uuid = ?, short_ids_json = ?,
		    generation = ?, rotated_at_ns = ?
		WHERE node_id = ?
	`, hex.EncodeToString(km.PrivateKey), km.PublicKey, km.ClientUUID,
		string(shortIDsJSON), km.Generation, km.RotatedAtNs, km.NodeID)
	if err != nil {
		return fmt.Errorf("replace key material %s: %w", km.NodeID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotProvisioned
	}
	return nil
}
