package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// =============================================================================
// ARTIFACTS (verification evidence)
// =============================================================================

// SaveArtifact records an evidence artifact. A missing id gets a fresh uuid;
// the id is returned either way.
func (s *Store) SaveArtifact(a *types.Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, session_id, type, path_relative, sha256, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, string(a.Type), a.Path, a.Checksum, jsonEncode(a.Metadata), a.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	logging.Store("Artifact %s saved: type=%s path=%s", a.ID, a.Type, a.Path)
	return a.ID, nil
}

// GetArtifact returns one artifact by id.
func (s *Store) GetArtifact(id string) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		"SELECT id, session_id, type, path_relative, sha256, metadata_json, created_at FROM artifacts WHERE id = ?",
		id,
	)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// SessionArtifacts returns the artifacts produced by one session.
func (s *Store) SessionArtifacts(sessionID int64) ([]types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, type, path_relative, sha256, metadata_json, created_at
		 FROM artifacts WHERE session_id = ? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []types.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

func scanArtifact(r rowScanner) (*types.Artifact, error) {
	var (
		a            types.Artifact
		typ          string
		metadataJSON string
	)
	err := r.Scan(&a.ID, &a.SessionID, &typ, &a.Path, &a.Checksum, &metadataJSON, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = types.ArtifactType(typ)
	jsonDecode(metadataJSON, &a.Metadata)
	return &a, nil
}
