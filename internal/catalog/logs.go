package catalog

import "time"

// LogEntry is one hs_logger row.
type LogEntry struct {
	Seq       int64
	HSName    string
	VMUUID    string
	Level     string
	Message   string
	CreatedAt time.Time
}

// AppendLog records one log line. Level is free-form ("info", "warn",
// "error") and not validated — the logger package is the source of truth
// for which levels it emits.
func (d *DB) AppendLog(hsName, vmUUID, level, message string) error {
	_, err := d.db.Exec(`
		INSERT INTO hs_logger (hs_name, vm_uuid, level, message)
		VALUES (?, ?, ?, ?)
	`, hsName, vmUUID, level, message)
	return err
}

// TailLogs returns the most recent limit entries for a host (vmUUID
// empty) or a specific guest, oldest first.
func (d *DB) TailLogs(hsName, vmUUID string, limit int) ([]LogEntry, error) {
	query := `
		SELECT seq, hs_name, vm_uuid, level, message, created_at
		FROM hs_logger WHERE hs_name = ?
	`
	args := []any{hsName}
	if vmUUID != "" {
		query += ` AND vm_uuid = ?`
		args = append(args, vmUUID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rs, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var entries []LogEntry
	for rs.Next() {
		var e LogEntry
		var createdStr string
		if err := rs.Scan(&e.Seq, &e.HSName, &e.VMUUID, &e.Level, &e.Message, &createdStr); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		entries = append(entries, e)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}

	// reverse to oldest-first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
