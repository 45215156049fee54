package store

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// =============================================================================
// WARM MEMORY (recent session summaries, issues, proven patterns)
// =============================================================================

// SaveSessionSummary stores the Warm digest of a finished session and evicts
// summaries beyond keepLast to Cold session stats, oldest first.
func (s *Store) SaveSessionSummary(sum *types.SessionSummary, keepLast int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO warm_summaries
		   (session_id, accomplished_json, tests_json, status, next_steps_json, issues_found_json, issues_fixed_json, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, jsonEncode(sum.Accomplished), jsonEncode(sum.TestsCompleted), sum.Status,
		jsonEncode(sum.NextSteps), jsonEncode(sum.IssuesFound), jsonEncode(sum.IssuesFixed),
		sum.Notes, sum.CreatedAt,
	)
	if err != nil {
		return err
	}

	if keepLast < 1 {
		keepLast = 5
	}
	_, err = s.db.Exec(
		`DELETE FROM warm_summaries WHERE session_id NOT IN
		   (SELECT session_id FROM warm_summaries ORDER BY session_id DESC LIMIT ?)`,
		keepLast,
	)
	if err != nil {
		return err
	}
	logging.Memory("Warm summary stored for session %d (keeping last %d)", sum.SessionID, keepLast)
	return nil
}

// RecentSummaries returns Warm summaries, newest first.
func (s *Store) RecentSummaries(limit int) ([]types.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(
		`SELECT session_id, accomplished_json, tests_json, status, next_steps_json,
		        issues_found_json, issues_fixed_json, notes, created_at
		 FROM warm_summaries ORDER BY session_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []types.SessionSummary
	for rows.Next() {
		var (
			sum         types.SessionSummary
			accJSON     string
			testsJSON   string
			nextJSON    string
			foundJSON   string
			fixedJSON   string
		)
		err := rows.Scan(&sum.SessionID, &accJSON, &testsJSON, &sum.Status, &nextJSON,
			&foundJSON, &fixedJSON, &sum.Notes, &sum.CreatedAt)
		if err != nil {
			return nil, err
		}
		jsonDecode(accJSON, &sum.Accomplished)
		jsonDecode(testsJSON, &sum.TestsCompleted)
		jsonDecode(nextJSON, &sum.NextSteps)
		jsonDecode(foundJSON, &sum.IssuesFound)
		jsonDecode(fixedJSON, &sum.IssuesFixed)
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// SaveUnresolvedIssue records or updates an issue carried across sessions.
func (s *Store) SaveUnresolvedIssue(issue *types.UnresolvedIssue) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	if issue.FirstSeen.IsZero() {
		issue.FirstSeen = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO unresolved_issues
		   (id, description, feature_index, severity, first_seen, attempts, resolved)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.Description, issue.FeatureIndex, issue.Severity,
		issue.FirstSeen, issue.Attempts, boolToInt(issue.Resolved),
	)
	return issue.ID, err
}

// ResolveIssue marks an unresolved issue as handled.
func (s *Store) ResolveIssue(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE unresolved_issues SET resolved = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenIssues returns unresolved issues, most severe first.
func (s *Store) OpenIssues() ([]types.UnresolvedIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, description, feature_index, severity, first_seen, attempts, resolved
		 FROM unresolved_issues WHERE resolved = 0 ORDER BY severity DESC, first_seen`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []types.UnresolvedIssue
	for rows.Next() {
		var issue types.UnresolvedIssue
		var resolved int
		err := rows.Scan(&issue.ID, &issue.Description, &issue.FeatureIndex, &issue.Severity,
			&issue.FirstSeen, &issue.Attempts, &resolved)
		if err != nil {
			return nil, err
		}
		issue.Resolved = resolved != 0
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// RecordProvenPattern stores or reinforces an approach that worked. A repeat
// of the same pattern id bumps its success count.
func (s *Store) RecordProvenPattern(p *types.ProvenPattern) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(
		"UPDATE proven_patterns SET success_count = success_count + 1, last_used = ? WHERE id = ?",
		now, p.ID,
	)
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return p.ID, nil
	}
	_, err = s.db.Exec(
		"INSERT INTO proven_patterns (id, pattern_type, description, success_count, last_used) VALUES (?, ?, ?, 1, ?)",
		p.ID, p.PatternType, p.Description, now,
	)
	return p.ID, err
}

// ProvenPatterns returns learned approaches, most reinforced first.
func (s *Store) ProvenPatterns(limit int) ([]types.ProvenPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, pattern_type, description, success_count, last_used
		 FROM proven_patterns ORDER BY success_count DESC, last_used DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []types.ProvenPattern
	for rows.Next() {
		var p types.ProvenPattern
		if err := rows.Scan(&p.ID, &p.PatternType, &p.Description, &p.SuccessCount, &p.LastUsed); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// =============================================================================
// COLD MEMORY (archives and distilled knowledge)
// =============================================================================

// ArchiveSessionStats writes the compact Cold record of a session.
func (s *Store) ArchiveSessionStats(st *types.SessionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ArchivedAt.IsZero() {
		st.ArchivedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cold_session_stats
		   (session_id, status, features_passed, tool_calls, errors, cost_usd, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.SessionID, string(st.Status), st.FeaturesPassed, st.ToolCalls, st.Errors, st.CostUSD, st.ArchivedAt,
	)
	return err
}

// ArchivedStats returns Cold session stats, newest first.
func (s *Store) ArchivedStats(limit int) ([]types.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT session_id, status, features_passed, tool_calls, errors, cost_usd, archived_at
		 FROM cold_session_stats ORDER BY session_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []types.SessionStats
	for rows.Next() {
		var st types.SessionStats
		var status string
		err := rows.Scan(&st.SessionID, &status, &st.FeaturesPassed, &st.ToolCalls, &st.Errors, &st.CostUSD, &st.ArchivedAt)
		if err != nil {
			return nil, err
		}
		st.Status = types.SessionStatus(status)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// SaveKnowledge stores a distilled Cold record with its keyword index.
func (s *Store) SaveKnowledge(k *types.ColdKnowledge) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO cold_knowledge (topic, content, keywords_json, solution, signature, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		k.Topic, k.Content, jsonEncode(normalizeKeywords(k.Keywords)), k.Solution, k.Signature, k.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SearchKnowledge matches Cold records whose topic, content, or keywords
// contain any term of the query. Records matching more terms rank higher.
func (s *Store) SearchKnowledge(query string, limit int) ([]types.ColdKnowledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		"SELECT id, topic, content, keywords_json, solution, signature, created_at FROM cold_knowledge",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		k     types.ColdKnowledge
		score int
	}
	var hits []scored
	for rows.Next() {
		var k types.ColdKnowledge
		var keywordsJSON string
		err := rows.Scan(&k.ID, &k.Topic, &k.Content, &keywordsJSON, &k.Solution, &k.Signature, &k.CreatedAt)
		if err != nil {
			return nil, err
		}
		jsonDecode(keywordsJSON, &k.Keywords)

		haystack := strings.ToLower(k.Topic + " " + k.Content + " " + strings.Join(k.Keywords, " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{k, score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable insertion order within equal scores.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].score > hits[j-1].score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]types.ColdKnowledge, len(hits))
	for i, h := range hits {
		out[i] = h.k
	}
	return out, nil
}

// KnowledgeBySignature returns Cold records with an exact signature match,
// used for similar-failure lookups.
func (s *Store) KnowledgeBySignature(signature string) ([]types.ColdKnowledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, topic, content, keywords_json, solution, signature, created_at
		 FROM cold_knowledge WHERE signature = ? ORDER BY id DESC`, signature,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ColdKnowledge
	for rows.Next() {
		var k types.ColdKnowledge
		var keywordsJSON string
		err := rows.Scan(&k.ID, &k.Topic, &k.Content, &keywordsJSON, &k.Solution, &k.Signature, &k.CreatedAt)
		if err != nil {
			return nil, err
		}
		jsonDecode(keywordsJSON, &k.Keywords)
		out = append(out, k)
	}
	return out, rows.Err()
}

// KnowledgeOlderThan returns Cold records created before the cutoff,
// optionally filtered by signature. Used by periodic compaction.
func (s *Store) KnowledgeOlderThan(cutoff time.Time, signature string) ([]types.ColdKnowledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, topic, content, keywords_json, solution, signature, created_at
	          FROM cold_knowledge WHERE created_at < ?`
	args := []any{cutoff.UTC()}
	if signature != "" {
		query += " AND signature = ?"
		args = append(args, signature)
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ColdKnowledge
	for rows.Next() {
		var k types.ColdKnowledge
		var keywordsJSON string
		err := rows.Scan(&k.ID, &k.Topic, &k.Content, &keywordsJSON, &k.Solution, &k.Signature, &k.CreatedAt)
		if err != nil {
			return nil, err
		}
		jsonDecode(keywordsJSON, &k.Keywords)
		out = append(out, k)
	}
	return out, rows.Err()
}

// DeleteKnowledge removes Cold records by ID after they have been folded
// into a compacted digest.
func (s *Store) DeleteKnowledge(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM cold_knowledge WHERE id = ?", id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}
