package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/insightpipe/insightpipe/internal/feedback"
)

// InsertFeedback stores a feedback item. Items that carry a URL already
// present in the database are skipped, which makes feed collection idempotent.
// Returns true if the item was inserted.
func (db *DB) InsertFeedback(item feedback.Item) (bool, error) {
	var meta sql.NullString
	if item.Metadata != nil {
		b, err := json.Marshal(item.Metadata)
		if err != nil {
			return false, fmt.Errorf("encoding metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	var url sql.NullString
	if item.URL != nil && *item.URL != "" {
		url = sql.NullString{String: *item.URL, Valid: true}
	}

	res, err := db.conn.Exec(`
		INSERT INTO feedback_items (id, product_id, text, author_id, channel, url, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) WHERE url IS NOT NULL AND url != '' DO NOTHING`,
		item.ID, item.ProductID, item.Text, item.AuthorID, item.Channel, url, meta,
		item.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("inserting feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert: %w", err)
	}
	return n > 0, nil
}

// ListFeedback returns all feedback for a product, oldest first.
func (db *DB) ListFeedback(productID string) ([]feedback.Item, error) {
	rows, err := db.conn.Query(`
		SELECT id, product_id, text, author_id, channel, url, metadata, created_at
		FROM feedback_items
		WHERE product_id = ?
		ORDER BY created_at ASC, id ASC`, productID)
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	defer rows.Close()

	var items []feedback.Item
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetFeedback returns one feedback item by id.
func (db *DB) GetFeedback(id string) (*feedback.Item, error) {
	row := db.conn.QueryRow(`
		SELECT id, product_id, text, author_id, channel, url, metadata, created_at
		FROM feedback_items WHERE id = ?`, id)
	item, err := scanFeedback(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListTruncatedFeedback returns feed-sourced items whose stored text is
// shorter than minLen. Feed summaries are often cut off, so these are the
// items worth re-fetching from their source page.
func (db *DB) ListTruncatedFeedback(productID string, minLen int) ([]feedback.Item, error) {
	rows, err := db.conn.Query(`
		SELECT id, product_id, text, author_id, channel, url, metadata, created_at
		FROM feedback_items
		WHERE product_id = ? AND url IS NOT NULL AND url != '' AND LENGTH(text) < ?
		ORDER BY created_at ASC, id ASC`, productID, minLen)
	if err != nil {
		return nil, fmt.Errorf("listing truncated feedback: %w", err)
	}
	defer rows.Close()

	var items []feedback.Item
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateFeedbackText replaces the text of a stored item. Used when a feed
// entry's full content is fetched after collection.
func (db *DB) UpdateFeedbackText(id, text string) error {
	if _, err := db.conn.Exec(
		"UPDATE feedback_items SET text = ? WHERE id = ?", text, id,
	); err != nil {
		return fmt.Errorf("updating feedback text: %w", err)
	}
	return nil
}

// CountFeedback returns the number of stored items for a product.
func (db *DB) CountFeedback(productID string) (int, error) {
	var n int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM feedback_items WHERE product_id = ?", productID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting feedback: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedback(row rowScanner) (feedback.Item, error) {
	var (
		item      feedback.Item
		author    sql.NullString
		channel   sql.NullString
		url       sql.NullString
		meta      sql.NullString
		createdAt sql.NullString
	)
	if err := row.Scan(&item.ID, &item.ProductID, &item.Text, &author, &channel, &url, &meta, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return item, err
		}
		return item, fmt.Errorf("scanning feedback: %w", err)
	}
	item.AuthorID = author.String
	item.Channel = channel.String
	if url.Valid {
		u := url.String
		item.URL = &u
	}
	if meta.Valid && meta.String != "" {
		var m feedback.Metadata
		if err := json.Unmarshal([]byte(meta.String), &m); err == nil {
			item.Metadata = &m
		}
	}
	if createdAt.Valid {
		if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
			item.CreatedAt = t
		}
	}
	return item, nil
}
