package azsearch

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/ragchat/internal/domain"
)

var notFoundByKind = map[domain.AssetKind]*domain.DomainError{
	domain.AssetKindIndex:      domain.ErrIndexNotFound,
	domain.AssetKindDataSource: domain.ErrDataSourceNotFound,
	domain.AssetKindSkillset:   domain.ErrSkillsetNotFound,
	domain.AssetKindIndexer:    domain.ErrIndexerNotFound,
}

func (c *Client) getAsset(ctx context.Context, kind domain.AssetKind, name string, out any) error {
	err := c.do(ctx, http.MethodGet, resourcePath(kind, name), nil, out)
	return classify(err, notFoundByKind[kind])
}

func (c *Client) putAsset(ctx context.Context, kind domain.AssetKind, name string, def any) error {
	err := c.do(ctx, http.MethodPut, resourcePath(kind, name), def, nil)
	return classify(err, notFoundByKind[kind])
}

func (c *Client) GetIndex(ctx context.Context, name string) (*domain.IndexDefinition, error) {
	var def domain.IndexDefinition
	if err := c.getAsset(ctx, domain.AssetKindIndex, name, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// PutIndex creates or updates an index. The service rejects incompatible
// field changes, which surface as SCHEMA_CONFLICT.
func (c *Client) PutIndex(ctx context.Context, def *domain.IndexDefinition) error {
	return c.putAsset(ctx, domain.AssetKindIndex, def.Name, def)
}

func (c *Client) GetDataSource(ctx context.Context, name string) (*domain.DataSourceDefinition, error) {
	var def domain.DataSourceDefinition
	if err := c.getAsset(ctx, domain.AssetKindDataSource, name, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *Client) PutDataSource(ctx context.Context, def *domain.DataSourceDefinition) error {
	return c.putAsset(ctx, domain.AssetKindDataSource, def.Name, def)
}

func (c *Client) GetSkillset(ctx context.Context, name string) (*domain.SkillsetDefinition, error) {
	var def domain.SkillsetDefinition
	if err := c.getAsset(ctx, domain.AssetKindSkillset, name, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *Client) PutSkillset(ctx context.Context, def *domain.SkillsetDefinition) error {
	return c.putAsset(ctx, domain.AssetKindSkillset, def.Name, def)
}

func (c *Client) GetIndexer(ctx context.Context, name string) (*domain.IndexerDefinition, error) {
	var def domain.IndexerDefinition
	if err := c.getAsset(ctx, domain.AssetKindIndexer, name, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *Client) PutIndexer(ctx context.Context, def *domain.IndexerDefinition) error {
	return c.putAsset(ctx, domain.AssetKindIndexer, def.Name, def)
}

// RunIndexer triggers an on-demand run. A run already in progress is
// reported as INDEXER_BUSY.
func (c *Client) RunIndexer(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodPost, resourcePath(domain.AssetKindIndexer, name)+"/search.run", nil, nil)
	return classify(err, domain.ErrIndexerNotFound)
}

// ResetIndexer clears change tracking so the next run reprocesses every document.
func (c *Client) ResetIndexer(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodPost, resourcePath(domain.AssetKindIndexer, name)+"/search.reset", nil, nil)
	return classify(err, domain.ErrIndexerNotFound)
}

func (c *Client) IndexerStatus(ctx context.Context, name string) (*domain.IndexerStatus, error) {
	var status domain.IndexerStatus
	err := c.do(ctx, http.MethodGet, resourcePath(domain.AssetKindIndexer, name)+"/search.status", nil, &status)
	if err := classify(err, domain.ErrIndexerNotFound); err != nil {
		return nil, err
	}
	if status.Name == "" {
		status.Name = name
	}
	return &status, nil
}
