package catalog

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/apierr"
)

// HostRow is one hs_config row: a named host's configuration plus its
// enabled flag and timestamps.
type HostRow struct {
	HSName    string
	Config    HostConfig
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveHost inserts or replaces a host's configuration.
func (d *DB) SaveHost(hsName string, cfg HostConfig, enabled bool) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT INTO hs_config (hs_name, config, enabled, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(hs_name) DO UPDATE SET
			config = excluded.config,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, hsName, string(cfgJSON), boolToInt(enabled))
	return err
}

// GetHost retrieves a host by name.
func (d *DB) GetHost(hsName string) (*HostRow, error) {
	row := d.db.QueryRow(`
		SELECT hs_name, config, enabled, created_at, updated_at
		FROM hs_config WHERE hs_name = ?
	`, hsName)
	return scanHostRow(row)
}

// ListHosts returns every host, ordered by name.
func (d *DB) ListHosts() ([]*HostRow, error) {
	rows, err := d.db.Query(`
		SELECT hs_name, config, enabled, created_at, updated_at
		FROM hs_config ORDER BY hs_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []*HostRow
	for rows.Next() {
		h, err := scanHostRows(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// DeleteHost removes a host and every guest, status row, task, and log
// entry scoped to it.
func (d *DB) DeleteHost(hsName string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM hs_config WHERE hs_name = ?`,
		`DELETE FROM hs_status WHERE hs_name = ?`,
		`DELETE FROM vm_saving WHERE hs_name = ?`,
		`DELETE FROM vm_status WHERE hs_name = ?`,
		`DELETE FROM vm_tasker WHERE hs_name = ?`,
		`DELETE FROM hs_logger WHERE hs_name = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, hsName); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func scanHostRowFields(h *HostRow, cfgJSON string, createdStr, updatedStr string, enabledInt int) error {
	h.Enabled = enabledInt != 0
	h.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	h.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return json.Unmarshal([]byte(cfgJSON), &h.Config)
}

func scanHostRow(row *sql.Row) (*HostRow, error) {
	var h HostRow
	var cfgJSON, createdStr, updatedStr string
	var enabledInt int

	err := row.Scan(&h.HSName, &cfgJSON, &enabledInt, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := scanHostRowFields(&h, cfgJSON, createdStr, updatedStr, enabledInt); err != nil {
		return nil, err
	}
	return &h, nil
}

func scanHostRows(rows *sql.Rows) (*HostRow, error) {
	var h HostRow
	var cfgJSON, createdStr, updatedStr string
	var enabledInt int

	if err := rows.Scan(&h.HSName, &cfgJSON, &enabledInt, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	if err := scanHostRowFields(&h, cfgJSON, createdStr, updatedStr, enabledInt); err != nil {
		return nil, err
	}
	return &h, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
