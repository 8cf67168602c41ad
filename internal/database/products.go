package database

import (
	"fmt"
	"strings"
)

// UpsertProduct adds or renames a catalog product.
func (db *DB) UpsertProduct(p Product) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("product id is empty")
	}
	_, err := db.conn.Exec(`
INSERT INTO products (id, name, url) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url`,
		p.ID, p.Name, nullString(p.URL),
	)
	if err != nil {
		return fmt.Errorf("saving product %s: %w", p.ID, err)
	}
	return nil
}

// ListProducts returns the catalog ordered by name.
func (db *DB) ListProducts() ([]Product, error) {
	rows, err := db.conn.Query("SELECT id, name, url FROM products ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		var url *string
		if err := rows.Scan(&p.ID, &p.Name, &url); err != nil {
			return nil, err
		}
		if url != nil {
			p.URL = *url
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// checkProducts returns ErrUnknownProduct naming every id missing from the catalog.
func checkProducts(q querier, ids []string) error {
	var missing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		var n int
		if err := q.QueryRow("SELECT COUNT(*) FROM products WHERE id = ?", id).Scan(&n); err != nil {
			return fmt.Errorf("checking product %s: %w", id, err)
		}
		if n == 0 {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d invalid product reference(s) %v: %w", len(missing), missing, ErrUnknownProduct)
	}
	return nil
}
