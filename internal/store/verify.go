package store

import "fmt"

// VerifyEvents re-reads every stored event of the project, decodes it, and
// recomputes its checksum. Problems are reported rather than returned as
// errors; the error is reserved for storage failures.
func (s *Store) VerifyEvents(projectID string) (*VerifyReport, error) {
	rows, err := s.db.Query(
		"SELECT "+eventColumns+" FROM events WHERE project_id = ? ORDER BY id ASC", projectID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	report := &VerifyReport{ProjectID: projectID}
	for rows.Next() {
		raw, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		report.Checked++

		e, err := raw.decode()
		if err != nil {
			report.Undecodable = append(report.Undecodable, raw.id)
			continue
		}

		ok, err := e.VerifyChecksum()
		if err != nil || !ok {
			report.Mismatched = append(report.Mismatched, raw.id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if !report.OK() {
		s.log.Warn("event verification failed",
			"project_id", projectID,
			"mismatched", len(report.Mismatched),
			"undecodable", len(report.Undecodable),
		)
	}
	return report, nil
}
