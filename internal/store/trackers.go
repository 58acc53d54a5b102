package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/driftwall/driftwall/internal/engine"
)

// LoadTrackers reads every category stat, color stat, and the composition
// profile. Missing rows simply mean nothing has been observed yet.
func (db *DB) LoadTrackers() (*engine.Trackers, error) {
	t := engine.NewTrackers()

	rows, err := db.Query("SELECT name, likes, dislikes, views, last_shown FROM category_stats")
	if err != nil {
		return nil, fmt.Errorf("load category stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s engine.CategoryStat
		var lastShown sql.NullInt64
		if err := rows.Scan(&s.Name, &s.Likes, &s.Dislikes, &s.Views, &lastShown); err != nil {
			return nil, fmt.Errorf("scan category stat: %w", err)
		}
		if lastShown.Valid {
			s.LastShown = time.UnixMilli(lastShown.Int64)
		}
		t.Categories[s.Name] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := db.Query("SELECT hex, likes, dislikes, views, last_shown FROM color_stats")
	if err != nil {
		return nil, fmt.Errorf("load color stats: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var s engine.ColorStat
		var lastShown sql.NullInt64
		if err := crows.Scan(&s.Hex, &s.Likes, &s.Dislikes, &s.Views, &lastShown); err != nil {
			return nil, fmt.Errorf("scan color stat: %w", err)
		}
		if lastShown.Valid {
			s.LastShown = time.UnixMilli(lastShown.Int64)
		}
		if r, g, b, err := engine.ParseHexColor(s.Hex); err == nil {
			s.R, s.G, s.B = r, g, b
		}
		t.Colors[s.Hex] = &s
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}

	p := t.Composition
	err = db.QueryRow(`
		SELECT avg_symmetry, avg_rule_of_thirds, avg_center_weight, avg_edge_density, avg_complexity,
			prefers_symmetry, prefers_minimal, prefers_centered, prefers_detailed, sample_count
		FROM composition_profile WHERE id = 1
	`).Scan(&p.AvgSymmetry, &p.AvgRuleOfThirds, &p.AvgCenterWeight, &p.AvgEdgeDensity, &p.AvgComplexity,
		&p.PrefersSymmetry, &p.PrefersMinimal, &p.PrefersCentered, &p.PrefersDetailed, &p.SampleCount)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load composition profile: %w", err)
	}

	return t, nil
}

// applyDelta folds tracker increments into the stats tables inside the
// feedback transaction. Colors that fail to parse were already skipped by
// the engine; the upserts here are unconditional.
func applyDelta(tx *sql.Tx, d engine.TrackerDelta) error {
	like, dislike, view := b2i(d.Like), b2i(d.Dislike), b2i(d.View)
	shown := d.ShownAt.UnixMilli()

	if d.Category != "" {
		_, err := tx.Exec(`
			INSERT INTO category_stats (name, likes, dislikes, views, last_shown)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				likes = likes + excluded.likes,
				dislikes = dislikes + excluded.dislikes,
				views = views + excluded.views,
				last_shown = MAX(COALESCE(last_shown, 0), excluded.last_shown)
		`, d.Category, like, dislike, view, shown)
		if err != nil {
			return fmt.Errorf("apply category delta: %w", err)
		}
	}

	for _, hex := range d.Colors {
		if _, _, _, err := engine.ParseHexColor(hex); err != nil {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO color_stats (hex, likes, dislikes, views, last_shown)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(hex) DO UPDATE SET
				likes = likes + excluded.likes,
				dislikes = dislikes + excluded.dislikes,
				views = views + excluded.views,
				last_shown = MAX(COALESCE(last_shown, 0), excluded.last_shown)
		`, hex, like, dislike, view, shown)
		if err != nil {
			return fmt.Errorf("apply color delta: %w", err)
		}
	}

	if d.Composition != nil {
		// Recompute the running means in SQL: new_avg = avg + (x - avg)/(n+1).
		f := d.Composition
		_, err := tx.Exec(`
			INSERT INTO composition_profile (id, avg_symmetry, avg_rule_of_thirds, avg_center_weight,
				avg_edge_density, avg_complexity, prefers_symmetry, prefers_minimal,
				prefers_centered, prefers_detailed, sample_count)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(id) DO UPDATE SET
				avg_symmetry       = avg_symmetry + (excluded.avg_symmetry - avg_symmetry) / (sample_count + 1),
				avg_rule_of_thirds = avg_rule_of_thirds + (excluded.avg_rule_of_thirds - avg_rule_of_thirds) / (sample_count + 1),
				avg_center_weight  = avg_center_weight + (excluded.avg_center_weight - avg_center_weight) / (sample_count + 1),
				avg_edge_density   = avg_edge_density + (excluded.avg_edge_density - avg_edge_density) / (sample_count + 1),
				avg_complexity     = avg_complexity + (excluded.avg_complexity - avg_complexity) / (sample_count + 1),
				sample_count       = sample_count + 1
		`, f.Symmetry, f.RuleOfThirds, f.CenterWeight, f.EdgeDensity, f.Complexity,
			clamp01f(f.Symmetry), clamp01f(1-f.Complexity), clamp01f(f.CenterWeight), clamp01f(f.EdgeDensity))
		if err != nil {
			return fmt.Errorf("apply composition delta: %w", err)
		}

		// Derive the tendency scores from the updated averages.
		_, err = tx.Exec(`
			UPDATE composition_profile SET
				prefers_symmetry = MIN(1, MAX(0, avg_symmetry)),
				prefers_minimal  = MIN(1, MAX(0, 1 - avg_complexity)),
				prefers_centered = MIN(1, MAX(0, avg_center_weight)),
				prefers_detailed = MIN(1, MAX(0, avg_edge_density))
			WHERE id = 1
		`)
		if err != nil {
			return fmt.Errorf("derive composition tendencies: %w", err)
		}
	}

	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clamp01f(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
