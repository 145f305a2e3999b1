package catalog

import "encoding/json"

// PushHostStatus appends sample to the host's status ring, trimming the
// ring to at most bound entries (oldest dropped first).
func (d *DB) PushHostStatus(hsName string, sample HWStatus, bound int) error {
	ring, err := d.loadHostRing(hsName)
	if err != nil {
		return err
	}
	ring = appendBounded(ring, sample, bound)

	statusJSON, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	ringJSON, err := json.Marshal(ring)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT INTO hs_status (hs_name, status, ring, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(hs_name) DO UPDATE SET
			status = excluded.status,
			ring = excluded.ring,
			updated_at = excluded.updated_at
	`, hsName, string(statusJSON), string(ringJSON))
	return err
}

// LatestHostStatus returns the most recent sample for a host, or the zero
// value if none has ever been recorded.
func (d *DB) LatestHostStatus(hsName string) (HWStatus, error) {
	var statusJSON string
	err := d.db.QueryRow(`SELECT status FROM hs_status WHERE hs_name = ?`, hsName).Scan(&statusJSON)
	if err != nil {
		return HWStatus{}, nil
	}
	var s HWStatus
	if err := json.Unmarshal([]byte(statusJSON), &s); err != nil {
		return HWStatus{}, err
	}
	return s, nil
}

// HostStatusRing returns the host's full status ring, oldest first.
func (d *DB) HostStatusRing(hsName string) ([]HWStatus, error) {
	return d.loadHostRing(hsName)
}

func (d *DB) loadHostRing(hsName string) ([]HWStatus, error) {
	var ringJSON string
	err := d.db.QueryRow(`SELECT ring FROM hs_status WHERE hs_name = ?`, hsName).Scan(&ringJSON)
	if err != nil {
		return nil, nil
	}
	var ring []HWStatus
	if err := json.Unmarshal([]byte(ringJSON), &ring); err != nil {
		return nil, err
	}
	return ring, nil
}

// PushGuestStatus appends sample to a guest's status ring under bound,
// same semantics as PushHostStatus.
func (d *DB) PushGuestStatus(hsName, vmUUID string, sample HWStatus, bound int) error {
	ring, err := d.loadGuestRing(hsName, vmUUID)
	if err != nil {
		return err
	}
	ring = appendBounded(ring, sample, bound)

	statusJSON, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	ringJSON, err := json.Marshal(ring)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT INTO vm_status (hs_name, vm_uuid, status, ring, updated_at)
		VALUES (?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(hs_name, vm_uuid) DO UPDATE SET
			status = excluded.status,
			ring = excluded.ring,
			updated_at = excluded.updated_at
	`, hsName, vmUUID, string(statusJSON), string(ringJSON))
	return err
}

// LatestGuestStatus returns the most recent sample for a guest, or the
// zero value if none has ever been recorded.
func (d *DB) LatestGuestStatus(hsName, vmUUID string) (HWStatus, error) {
	var statusJSON string
	err := d.db.QueryRow(`SELECT status FROM vm_status WHERE hs_name = ? AND vm_uuid = ?`, hsName, vmUUID).Scan(&statusJSON)
	if err != nil {
		return HWStatus{}, nil
	}
	var s HWStatus
	if err := json.Unmarshal([]byte(statusJSON), &s); err != nil {
		return HWStatus{}, err
	}
	return s, nil
}

func (d *DB) loadGuestRing(hsName, vmUUID string) ([]HWStatus, error) {
	var ringJSON string
	err := d.db.QueryRow(`SELECT ring FROM vm_status WHERE hs_name = ? AND vm_uuid = ?`, hsName, vmUUID).Scan(&ringJSON)
	if err != nil {
		return nil, nil
	}
	var ring []HWStatus
	if err := json.Unmarshal([]byte(ringJSON), &ring); err != nil {
		return nil, err
	}
	return ring, nil
}

func appendBounded(ring []HWStatus, sample HWStatus, bound int) []HWStatus {
	ring = append(ring, sample)
	if bound > 0 && len(ring) > bound {
		ring = ring[len(ring)-bound:]
	}
	return ring
}
