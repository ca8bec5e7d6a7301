package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Knowledge docs ---

const knowledgeColumns = `id, COALESCE(external_id, ''), title, content, source, language, priority, tags, created_at, updated_at, vector_ids`

func (s *Store) SaveKnowledgeDoc(doc KnowledgeDoc) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if doc.Tags == "" {
		doc.Tags = "[]"
	}
	if doc.VectorIDs == "" {
		doc.VectorIDs = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO knowledge_docs (id, external_id, title, content, source, language, priority, tags, created_at, updated_at, vector_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, nullable(doc.ExternalID), doc.Title, doc.Content, doc.Source, doc.Language, doc.Priority, doc.Tags,
		doc.CreatedAt.UTC().Format(time.RFC3339), doc.UpdatedAt.UTC().Format(time.RFC3339), doc.VectorIDs,
	)
	return err
}

// UpdateKnowledgeDoc replaces the content fields of an existing doc and
// clears its vector IDs; the caller re-embeds it afterwards.
func (s *Store) UpdateKnowledgeDoc(doc KnowledgeDoc) error {
	if doc.Tags == "" {
		doc.Tags = "[]"
	}
	res, err := s.db.Exec(`
		UPDATE knowledge_docs SET title = ?, content = ?, source = ?, language = ?, priority = ?, tags = ?, updated_at = ?, vector_ids = '[]'
		WHERE id = ?`,
		doc.Title, doc.Content, doc.Source, doc.Language, doc.Priority, doc.Tags,
		time.Now().UTC().Format(time.RFC3339), doc.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetKnowledgeDocVectorIDs(id, vectorIDs string) error {
	res, err := s.db.Exec(`UPDATE knowledge_docs SET vector_ids = ? WHERE id = ?`, vectorIDs, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetKnowledgeDoc(id string) (KnowledgeDoc, error) {
	row := s.db.QueryRow(`SELECT `+knowledgeColumns+` FROM knowledge_docs WHERE id = ?`, id)
	d, err := scanKnowledgeDoc(row)
	if err == sql.ErrNoRows {
		return KnowledgeDoc{}, ErrNotFound
	}
	return d, err
}

// GetKnowledgeDocByExternalID looks up a doc by its content feed item ID.
func (s *Store) GetKnowledgeDocByExternalID(externalID string) (KnowledgeDoc, error) {
	row := s.db.QueryRow(`SELECT `+knowledgeColumns+` FROM knowledge_docs WHERE external_id = ?`, externalID)
	d, err := scanKnowledgeDoc(row)
	if err == sql.ErrNoRows {
		return KnowledgeDoc{}, ErrNotFound
	}
	return d, err
}

func (s *Store) ListKnowledgeDocs(limit, offset int) ([]KnowledgeDoc, error) {
	rows, err := s.db.Query(`
		SELECT `+knowledgeColumns+`
		FROM knowledge_docs ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []KnowledgeDoc
	for rows.Next() {
		d, err := scanKnowledgeDoc(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) DeleteKnowledgeDoc(id string) error {
	res, err := s.db.Exec(`DELETE FROM knowledge_docs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanKnowledgeDoc(row rowScanner) (KnowledgeDoc, error) {
	var d KnowledgeDoc
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.ExternalID, &d.Title, &d.Content, &d.Source, &d.Language, &d.Priority,
		&d.Tags, &createdAt, &updatedAt, &d.VectorIDs); err != nil {
		return KnowledgeDoc{}, err
	}
	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return KnowledgeDoc{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return KnowledgeDoc{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
