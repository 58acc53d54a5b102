package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/driftwall/driftwall/internal/engine"
)

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	if n == 0 {
		return nil
	}
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// UpsertCandidate stores or replaces a candidate record.
func (db *DB) UpsertCandidate(c engine.Candidate) error {
	now := time.Now().UnixMilli()
	colors, err := json.Marshal(c.Colors)
	if err != nil {
		return fmt.Errorf("marshal colors: %w", err)
	}

	var sym, thirds, center, edge, complexity any
	if c.Composition != nil {
		sym = c.Composition.Symmetry
		thirds = c.Composition.RuleOfThirds
		center = c.Composition.CenterWeight
		edge = c.Composition.EdgeDensity
		complexity = c.Composition.Complexity
	}

	_, err = db.Exec(`
		INSERT INTO candidates (id, embedding, dimensions, colors, category, brightness, contrast,
			symmetry, rule_of_thirds, center_weight, edge_density, complexity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding, dimensions = excluded.dimensions,
			colors = excluded.colors, category = excluded.category,
			brightness = excluded.brightness, contrast = excluded.contrast,
			symmetry = excluded.symmetry, rule_of_thirds = excluded.rule_of_thirds,
			center_weight = excluded.center_weight, edge_density = excluded.edge_density,
			complexity = excluded.complexity, updated_at = excluded.updated_at
	`, c.ID, encodeEmbedding(c.Embedding), len(c.Embedding), string(colors), c.Category,
		c.Brightness, c.Contrast, sym, thirds, center, edge, complexity, now, now)
	if err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	return nil
}

// GetCandidate returns a candidate by id, or nil if not found.
func (db *DB) GetCandidate(id string) (*engine.Candidate, error) {
	row := db.QueryRow(`
		SELECT id, embedding, colors, category, brightness, contrast,
			symmetry, rule_of_thirds, center_weight, edge_density, complexity
		FROM candidates WHERE id = ?
	`, id)

	c, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// AllCandidates returns the full candidate pool.
func (db *DB) AllCandidates() ([]engine.Candidate, error) {
	rows, err := db.Query(`
		SELECT id, embedding, colors, category, brightness, contrast,
			symmetry, rule_of_thirds, center_weight, edge_density, complexity
		FROM candidates ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("all candidates: %w", err)
	}
	defer rows.Close()

	var out []engine.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CountCandidates returns the catalog size.
func (db *DB) CountCandidates() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM candidates").Scan(&n)
	return n, err
}

// DeleteCandidate removes a candidate and its queue entry.
func (db *DB) DeleteCandidate(id string) error {
	if _, err := db.Exec("DELETE FROM download_queue WHERE candidate_id = ?", id); err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if _, err := db.Exec("DELETE FROM candidates WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (*engine.Candidate, error) {
	var c engine.Candidate
	var blob []byte
	var colors string
	var sym, thirds, center, edge, complexity sql.NullFloat64

	err := row.Scan(&c.ID, &blob, &colors, &c.Category, &c.Brightness, &c.Contrast,
		&sym, &thirds, &center, &edge, &complexity)
	if err != nil {
		return nil, err
	}

	c.Embedding = decodeEmbedding(blob)
	if err := json.Unmarshal([]byte(colors), &c.Colors); err != nil {
		return nil, fmt.Errorf("unmarshal colors: %w", err)
	}

	if sym.Valid {
		c.Composition = &engine.CompositionFeatures{
			Symmetry:     sym.Float64,
			RuleOfThirds: thirds.Float64,
			CenterWeight: center.Float64,
			EdgeDensity:  edge.Float64,
			Complexity:   complexity.Float64,
		}
	}
	return &c, nil
}
