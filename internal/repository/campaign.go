package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/adcraft/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create stores a new campaign with its variants and sizes.
// An ID is generated when the campaign has none.
func (r *CampaignRepository) Create(c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	baseTemplate, output, metadata, err := marshalCampaign(c)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO campaigns (id, name, description, base_template, output, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, baseTemplate, output, metadata, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	if err := insertVariants(tx, c.ID, c.CopyVariants); err != nil {
		return err
	}
	if err := insertSizes(tx, c.ID, c.Sizes); err != nil {
		return err
	}

	return tx.Commit()
}

// GetByID returns a campaign with variants and sizes, or nil if it does not exist
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	c := &models.Campaign{}
	var description, baseTemplate, output, metadata sql.NullString

	err := r.db.QueryRow(`
		SELECT id, name, description, base_template, output, metadata, created_at, updated_at
		FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &description, &baseTemplate, &output, &metadata, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	if err := unmarshalCampaign(c, baseTemplate, output, metadata); err != nil {
		return nil, err
	}

	if c.CopyVariants, err = r.GetVariants(id); err != nil {
		return nil, err
	}
	if c.Sizes, err = r.getSizes(id); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with variant, size and job counts
func (r *CampaignRepository) List(filter models.CampaignListFilter) ([]models.CampaignWithStats, int, error) {
	countQuery := "SELECT COUNT(*) FROM campaigns WHERE 1=1"
	args := []any{}

	if filter.Search != "" {
		countQuery += " AND (name LIKE ? OR description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT c.id, c.name, c.description, c.created_at, c.updated_at,
			COALESCE((SELECT COUNT(*) FROM campaign_variants WHERE campaign_id = c.id), 0) as variant_count,
			COALESCE((SELECT COUNT(*) FROM campaign_sizes WHERE campaign_id = c.id AND enabled = 1), 0) as size_count,
			COALESCE((SELECT COUNT(*) FROM generation_jobs WHERE campaign_id = c.id), 0) as job_count
		FROM campaigns c
		WHERE 1=1`

	args = []any{}
	if filter.Search != "" {
		query += " AND (c.name LIKE ? OR c.description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	query += " ORDER BY c.updated_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.CampaignWithStats{}
	for rows.Next() {
		var c models.CampaignWithStats
		var description sql.NullString
		err := rows.Scan(&c.ID, &c.Name, &description, &c.CreatedAt, &c.UpdatedAt,
			&c.VariantCount, &c.SizeCount, &c.JobCount)
		if err != nil {
			return nil, 0, err
		}
		c.Description = description.String
		campaigns = append(campaigns, c)
	}

	return campaigns, total, rows.Err()
}

// Update replaces a campaign's fields, variants and sizes
func (r *CampaignRepository) Update(c *models.Campaign) error {
	c.UpdatedAt = time.Now()

	baseTemplate, output, metadata, err := marshalCampaign(c)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE campaigns SET name = ?, description = ?, base_template = ?, output = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Description, baseTemplate, output, metadata, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.Exec("DELETE FROM campaign_variants WHERE campaign_id = ?", c.ID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM campaign_sizes WHERE campaign_id = ?", c.ID); err != nil {
		return err
	}
	if err := insertVariants(tx, c.ID, c.CopyVariants); err != nil {
		return err
	}
	if err := insertSizes(tx, c.ID, c.Sizes); err != nil {
		return err
	}

	return tx.Commit()
}

// Delete deletes a campaign together with its jobs
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}

// ReplaceVariants swaps the campaign's copy variants for the given list
func (r *CampaignRepository) ReplaceVariants(campaignID string, variants []models.CopyVariant) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM campaign_variants WHERE campaign_id = ?", campaignID); err != nil {
		return err
	}
	if err := insertVariants(tx, campaignID, variants); err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE campaigns SET updated_at = ? WHERE id = ?", time.Now(), campaignID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetVariants returns the campaign's copy variants in order
func (r *CampaignRepository) GetVariants(campaignID string) ([]models.CopyVariant, error) {
	rows, err := r.db.Query(`
		SELECT id, name, headline, subheadline, body, cta
		FROM campaign_variants
		WHERE campaign_id = ?
		ORDER BY position`, campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := []models.CopyVariant{}
	for rows.Next() {
		var v models.CopyVariant
		var headline, subheadline, body, cta sql.NullString
		if err := rows.Scan(&v.ID, &v.Name, &headline, &subheadline, &body, &cta); err != nil {
			return nil, err
		}
		v.Headline = headline.String
		v.Subheadline = subheadline.String
		v.Body = body.String
		v.CTA = cta.String
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (r *CampaignRepository) getSizes(campaignID string) ([]models.CampaignSize, error) {
	rows, err := r.db.Query(`
		SELECT size_id, enabled, display_name
		FROM campaign_sizes
		WHERE campaign_id = ?
		ORDER BY position`, campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sizes := []models.CampaignSize{}
	for rows.Next() {
		var s models.CampaignSize
		var displayName sql.NullString
		if err := rows.Scan(&s.SizeID, &s.Enabled, &displayName); err != nil {
			return nil, err
		}
		s.DisplayName = displayName.String
		sizes = append(sizes, s)
	}
	return sizes, rows.Err()
}

func insertVariants(tx *sql.Tx, campaignID string, variants []models.CopyVariant) error {
	for i, v := range variants {
		_, err := tx.Exec(`
			INSERT INTO campaign_variants (campaign_id, position, id, name, headline, subheadline, body, cta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			campaignID, i, v.ID, v.Name, v.Headline, v.Subheadline, v.Body, v.CTA,
		)
		if err != nil {
			return fmt.Errorf("failed to add variant %s: %w", v.ID, err)
		}
	}
	return nil
}

func insertSizes(tx *sql.Tx, campaignID string, sizes []models.CampaignSize) error {
	for i, s := range sizes {
		_, err := tx.Exec(`
			INSERT INTO campaign_sizes (campaign_id, position, size_id, enabled, display_name)
			VALUES (?, ?, ?, ?, ?)`,
			campaignID, i, s.SizeID, s.Enabled, s.DisplayName,
		)
		if err != nil {
			return fmt.Errorf("failed to add size %s: %w", s.SizeID, err)
		}
	}
	return nil
}

func marshalCampaign(c *models.Campaign) (baseTemplate, output, metadata any, err error) {
	if c.BaseTemplate != nil {
		b, err := json.Marshal(c.BaseTemplate)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode base template: %w", err)
		}
		baseTemplate = string(b)
	}
	o, err := json.Marshal(c.Output)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode output settings: %w", err)
	}
	output = string(o)
	if len(c.Metadata) > 0 {
		m, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(m)
	}
	return baseTemplate, output, metadata, nil
}

func unmarshalCampaign(c *models.Campaign, baseTemplate, output, metadata sql.NullString) error {
	if baseTemplate.Valid && baseTemplate.String != "" {
		c.BaseTemplate = &models.AdTemplate{}
		if err := json.Unmarshal([]byte(baseTemplate.String), c.BaseTemplate); err != nil {
			return fmt.Errorf("failed to decode base template: %w", err)
		}
	}
	c.Output = models.DefaultOutputSettings()
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &c.Output); err != nil {
			return fmt.Errorf("failed to decode output settings: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
			return fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return nil
}
