package store

// =============================================================================
// CUSTOM ESCALATION RULES
// =============================================================================

// EscalationRuleRow is one persisted custom rule; built-ins live in code.
type EscalationRuleRow struct {
	ID            int64
	Name          string
	ConditionJSON string
	Severity      int
	AutoPause     bool
	Enabled       bool
}

// SaveEscalationRule creates or updates a custom rule by name.
func (s *Store) SaveEscalationRule(r *EscalationRuleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO escalation_rules (name, condition_json, severity, auto_pause, enabled)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   condition_json = excluded.condition_json,
		   severity = excluded.severity,
		   auto_pause = excluded.auto_pause,
		   enabled = excluded.enabled`,
		r.Name, r.ConditionJSON, r.Severity, boolToInt(r.AutoPause), boolToInt(r.Enabled),
	)
	return err
}

// EnabledEscalationRules returns active custom rules, highest severity first.
func (s *Store) EnabledEscalationRules() ([]EscalationRuleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, name, condition_json, severity, auto_pause, enabled
		 FROM escalation_rules WHERE enabled = 1 ORDER BY severity DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []EscalationRuleRow
	for rows.Next() {
		var r EscalationRuleRow
		var autoPause, enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.ConditionJSON, &r.Severity, &autoPause, &enabled); err != nil {
			return nil, err
		}
		r.AutoPause = autoPause != 0
		r.Enabled = enabled != 0
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
