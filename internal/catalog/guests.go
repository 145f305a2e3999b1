package catalog

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/apierr"
)

// GuestRow is one vm_saving row.
type GuestRow struct {
	HSName    string
	VMUUID    string
	Config    GuestConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveGuest inserts or replaces a guest's configuration under a host.
func (d *DB) SaveGuest(hsName string, cfg GuestConfig) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT INTO vm_saving (hs_name, vm_uuid, config, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(hs_name, vm_uuid) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at
	`, hsName, cfg.VMUUID, string(cfgJSON))
	return err
}

// GetGuest retrieves one guest by host and UUID.
func (d *DB) GetGuest(hsName, vmUUID string) (*GuestRow, error) {
	row := d.db.QueryRow(`
		SELECT hs_name, vm_uuid, config, created_at, updated_at
		FROM vm_saving WHERE hs_name = ? AND vm_uuid = ?
	`, hsName, vmUUID)
	return scanGuestRow(row)
}

// ListGuests returns every guest under a host.
func (d *DB) ListGuests(hsName string) ([]*GuestRow, error) {
	rows, err := d.db.Query(`
		SELECT hs_name, vm_uuid, config, created_at, updated_at
		FROM vm_saving WHERE hs_name = ? ORDER BY vm_uuid
	`, hsName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guests []*GuestRow
	for rows.Next() {
		g, err := scanGuestRows(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, g)
	}
	return guests, rows.Err()
}

// DeleteGuest removes a guest and its status/task rows.
func (d *DB) DeleteGuest(hsName, vmUUID string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM vm_saving WHERE hs_name = ? AND vm_uuid = ?`,
		`DELETE FROM vm_status WHERE hs_name = ? AND vm_uuid = ?`,
		`DELETE FROM vm_tasker WHERE hs_name = ? AND vm_uuid = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, hsName, vmUUID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func scanGuestRowFields(g *GuestRow, cfgJSON, createdStr, updatedStr string) error {
	g.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	g.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return json.Unmarshal([]byte(cfgJSON), &g.Config)
}

func scanGuestRow(row *sql.Row) (*GuestRow, error) {
	var g GuestRow
	var cfgJSON, createdStr, updatedStr string

	err := row.Scan(&g.HSName, &g.VMUUID, &cfgJSON, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := scanGuestRowFields(&g, cfgJSON, createdStr, updatedStr); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanGuestRows(rows *sql.Rows) (*GuestRow, error) {
	var g GuestRow
	var cfgJSON, createdStr, updatedStr string

	if err := rows.Scan(&g.HSName, &g.VMUUID, &cfgJSON, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	if err := scanGuestRowFields(&g, cfgJSON, createdStr, updatedStr); err != nil {
		return nil, err
	}
	return &g, nil
}
