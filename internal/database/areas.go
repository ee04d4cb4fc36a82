package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/insightpipe/insightpipe/internal/feedback"
)

// InsertArea stores a taxonomy area.
func (db *DB) InsertArea(area feedback.Area) error {
	var keywords sql.NullString
	if len(area.Keywords) > 0 {
		b, err := json.Marshal(area.Keywords)
		if err != nil {
			return fmt.Errorf("encoding keywords: %w", err)
		}
		keywords = sql.NullString{String: string(b), Valid: true}
	}
	if _, err := db.conn.Exec(`
		INSERT INTO areas (id, product_id, name, description, keywords)
		VALUES (?, ?, ?, ?, ?)`,
		area.ID, area.ProductID, area.Name, area.Description, keywords,
	); err != nil {
		return fmt.Errorf("inserting area: %w", err)
	}
	return nil
}

// ListAreasForProduct returns the taxonomy for a product, by name.
func (db *DB) ListAreasForProduct(productID string) ([]feedback.Area, error) {
	rows, err := db.conn.Query(`
		SELECT id, product_id, name, description, keywords
		FROM areas
		WHERE product_id = ?
		ORDER BY name ASC`, productID)
	if err != nil {
		return nil, fmt.Errorf("listing areas: %w", err)
	}
	defer rows.Close()

	var areas []feedback.Area
	for rows.Next() {
		var (
			a        feedback.Area
			desc     sql.NullString
			keywords sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Name, &desc, &keywords); err != nil {
			return nil, fmt.Errorf("scanning area: %w", err)
		}
		a.Description = desc.String
		if keywords.Valid && keywords.String != "" {
			if err := json.Unmarshal([]byte(keywords.String), &a.Keywords); err != nil {
				// Tolerate hand-edited rows with comma-separated keywords.
				for _, k := range strings.Split(keywords.String, ",") {
					if k = strings.TrimSpace(k); k != "" {
						a.Keywords = append(a.Keywords, k)
					}
				}
			}
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

// DeleteArea removes a taxonomy area by id.
func (db *DB) DeleteArea(id string) error {
	res, err := db.conn.Exec("DELETE FROM areas WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting area: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("area %s not found", id)
	}
	return nil
}

// CountAreas returns the number of areas across all products.
func (db *DB) CountAreas() (int, error) {
	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM areas").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting areas: %w", err)
	}
	return n, nil
}
