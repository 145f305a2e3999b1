package catalog

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/apierr"
)

// TaskRow is one vm_tasker row.
type TaskRow struct {
	TaskID    string
	HSName    string
	VMUUID    string
	Task      Task
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveTask inserts or replaces a task record.
func (d *DB) SaveTask(taskID, hsName, vmUUID string, task Task) error {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT INTO vm_tasker (task_id, hs_name, vm_uuid, task, updated_at)
		VALUES (?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(task_id) DO UPDATE SET
			task = excluded.task,
			updated_at = excluded.updated_at
	`, taskID, hsName, vmUUID, string(taskJSON))
	return err
}

// GetTask retrieves a task by ID.
func (d *DB) GetTask(taskID string) (*TaskRow, error) {
	row := d.db.QueryRow(`
		SELECT task_id, hs_name, vm_uuid, task, created_at, updated_at
		FROM vm_tasker WHERE task_id = ?
	`, taskID)
	return scanTaskRow(row)
}

// ListTasks returns every task recorded for a host (all guests), newest
// first.
func (d *DB) ListTasks(hsName string) ([]*TaskRow, error) {
	rows, err := d.db.Query(`
		SELECT task_id, hs_name, vm_uuid, task, created_at, updated_at
		FROM vm_tasker WHERE hs_name = ? ORDER BY created_at DESC
	`, hsName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*TaskRow
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTaskRowFields(t *TaskRow, taskJSON, createdStr, updatedStr string) error {
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return json.Unmarshal([]byte(taskJSON), &t.Task)
}

func scanTaskRow(row *sql.Row) (*TaskRow, error) {
	var t TaskRow
	var taskJSON, createdStr, updatedStr string

	err := row.Scan(&t.TaskID, &t.HSName, &t.VMUUID, &taskJSON, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := scanTaskRowFields(&t, taskJSON, createdStr, updatedStr); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTaskRows(rows *sql.Rows) (*TaskRow, error) {
	var t TaskRow
	var taskJSON, createdStr, updatedStr string

	if err := rows.Scan(&t.TaskID, &t.HSName, &t.VMUUID, &taskJSON, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	if err := scanTaskRowFields(&t, taskJSON, createdStr, updatedStr); err != nil {
		return nil, err
	}
	return &t, nil
}
