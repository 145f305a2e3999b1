package catalog

import "database/sql"

// Global is the singleton row holding the bearer token and saving root.
type Global struct {
	Bearer     string `json:"bearer"`
	SavingRoot string `json:"saving_root"`
}

// LoadGlobal returns the singleton row, or the zero value if it has never
// been written.
func (d *DB) LoadGlobal() (Global, error) {
	var g Global
	err := d.db.QueryRow(`SELECT bearer, saving_root FROM hs_global WHERE id = 1`).Scan(&g.Bearer, &g.SavingRoot)
	if err == sql.ErrNoRows {
		return Global{}, nil
	}
	return g, err
}

// SaveGlobal upserts the singleton row.
func (d *DB) SaveGlobal(g Global) error {
	_, err := d.db.Exec(`
		INSERT INTO hs_global (id, bearer, saving_root)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bearer = excluded.bearer,
			saving_root = excluded.saving_root
	`, g.Bearer, g.SavingRoot)
	return err
}
