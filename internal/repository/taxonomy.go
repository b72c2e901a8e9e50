package repository

import (
	"context"

	"github.com/vistorialab/vistoria/internal/domain"
)

// GetTaxonomy loads the full environment/item tree. The tree is small (a few
// hundred nodes at most) so one snapshot per report run is cheaper than
// per-photo lookups.
func (q *Queries) GetTaxonomy(ctx context.Context) (domain.Taxonomy, error) {
	var tax domain.Taxonomy

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM environments ORDER BY name`)
	if err != nil {
		return tax, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.Environment
		if err := rows.Scan(&e.ID, &e.Name, &e.CreatedAt); err != nil {
			return tax, err
		}
		tax.Environments = append(tax.Environments, e)
	}
	if err := rows.Err(); err != nil {
		return tax, err
	}

	itemRows, err := q.db.QueryContext(ctx, `
		SELECT id, environment_id, parent_id, name, prompt, created_at
		FROM items ORDER BY created_at`)
	if err != nil {
		return tax, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var it domain.Item
		if err := itemRows.Scan(&it.ID, &it.EnvironmentID, &it.ParentID, &it.Name, &it.Prompt, &it.CreatedAt); err != nil {
			return tax, err
		}
		tax.Items = append(tax.Items, it)
	}
	return tax, itemRows.Err()
}
