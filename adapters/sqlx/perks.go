package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"loyaltykit/core"
)

// PerkCatalog reads perks from the perks table.
type PerkCatalog struct {
	db *sqlx.DB
}

func NewPerkCatalog(db *sqlx.DB) *PerkCatalog { return &PerkCatalog{db: db} }

type perkRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	Description     sql.NullString `db:"description"`
	IsActive        bool           `db:"is_active"`
	BrandID         sql.NullString `db:"brand_id"`
	UnlockCondition sql.NullString `db:"unlock_condition"`
}

// ListActivePerks returns active perks ordered by id. A condition that fails to
// parse yields a perk with no condition, which always evaluates locked.
func (c *PerkCatalog) ListActivePerks(ctx context.Context) ([]core.Perk, error) {
	var rows []perkRow
	q := `SELECT id, name, description, is_active, brand_id, unlock_condition FROM perks WHERE is_active = TRUE ORDER BY id`
	if err := c.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, classify("list perks", err)
	}
	out := make([]core.Perk, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Perk{
			ID:              r.ID,
			Name:            r.Name,
			Description:     r.Description.String,
			IsActive:        r.IsActive,
			BrandID:         r.BrandID.String,
			UnlockCondition: core.DecodeStoredCondition([]byte(r.UnlockCondition.String)),
		})
	}
	return out, nil
}

const perkInsert = `INSERT INTO perks (id, name, description, is_active, brand_id, unlock_condition) VALUES (?, ?, ?, ?, ?, ?)`

// upsertQuery is a single insert-or-update statement. MySQL reports changed
// rows rather than matched rows, so an UPDATE-then-INSERT pair would misfire on
// an unchanged re-upsert.
func (c *PerkCatalog) upsertQuery() string {
	if c.db.DriverName() == string(DriverMySQL) {
		return perkInsert + ` ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description), is_active = VALUES(is_active), brand_id = VALUES(brand_id), unlock_condition = VALUES(unlock_condition)`
	}
	return perkInsert + ` ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, is_active = EXCLUDED.is_active, brand_id = EXCLUDED.brand_id, unlock_condition = EXCLUDED.unlock_condition`
}

// Upsert writes p, validating its condition first.
func (c *PerkCatalog) Upsert(ctx context.Context, p core.Perk) (core.Perk, error) {
	if p.UnlockCondition == nil {
		return core.Perk{}, core.E(core.KindInvalidInput, "upsert perk", "perk %q has no unlock condition", p.Name)
	}
	if err := p.UnlockCondition.Validate(); err != nil {
		return core.Perk{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cond, err := json.Marshal(p.UnlockCondition)
	if err != nil {
		return core.Perk{}, core.Wrap(core.KindInvalidInput, "upsert perk", err)
	}
	brand := sql.NullString{String: p.BrandID, Valid: p.BrandID != ""}

	if _, err := c.db.ExecContext(ctx, c.db.Rebind(c.upsertQuery()),
		p.ID, p.Name, p.Description, p.IsActive, brand, string(cond)); err != nil {
		return core.Perk{}, classify("upsert perk", err)
	}
	return p, nil
}

func (c *PerkCatalog) Deactivate(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, c.db.Rebind(`UPDATE perks SET is_active = FALSE WHERE id = ?`), id)
	if err != nil {
		return classify("deactivate perk", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Zero affected rows also covers an already inactive perk on MySQL.
	var count int
	if err := c.db.GetContext(ctx, &count, c.db.Rebind(`SELECT COUNT(*) FROM perks WHERE id = ?`), id); err != nil {
		return classify("deactivate perk", err)
	}
	if count == 0 {
		return core.E(core.KindNotFound, "deactivate perk", "perk %q not found", id)
	}
	return nil
}
