package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AssetRepository stores search asset definitions as JSON documents.
type AssetRepository struct {
	db dbtx
}

func NewAssetRepository(pool *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{db: pool}
}

// PutAsset creates or replaces the definition stored under kind and name.
func (r *AssetRepository) PutAsset(ctx context.Context, kind domain.AssetKind, name string, definition []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO search_assets (kind, name, definition)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (kind, name) DO UPDATE
		 SET definition = EXCLUDED.definition, updated_at = now()`,
		string(kind), name, definition,
	)
	return err
}

// GetAsset returns the stored definition or domain.ErrAssetNotFound.
func (r *AssetRepository) GetAsset(ctx context.Context, kind domain.AssetKind, name string) ([]byte, error) {
	var definition []byte
	err := r.db.QueryRow(ctx,
		`SELECT definition FROM search_assets WHERE kind = $1 AND name = $2`,
		string(kind), name,
	).Scan(&definition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAssetNotFound
		}
		return nil, err
	}
	return definition, nil
}

// DeleteAsset removes a definition. Deleting a missing asset is not an error.
func (r *AssetRepository) DeleteAsset(ctx context.Context, kind domain.AssetKind, name string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM search_assets WHERE kind = $1 AND name = $2`, string(kind), name)
	return err
}
