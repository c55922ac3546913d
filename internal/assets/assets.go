// Package assets renders the search asset definitions (index, data source,
// skillset, indexer) from the templates embedded in the binary.
package assets

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/cloo-solutions/ragchat/internal/config"
	"github.com/cloo-solutions/ragchat/internal/domain"
)

//go:embed templates/*.json.tmpl
var templateFS embed.FS

var templates = template.Must(
	template.New("assets").
		Option("missingkey=error").
		Funcs(template.FuncMap{"json": toJSON}).
		ParseFS(templateFS, "templates/*.json.tmpl"),
)

var templateByKind = map[domain.AssetKind]string{
	domain.AssetKindIndex:      "index.json.tmpl",
	domain.AssetKindDataSource: "datasource.json.tmpl",
	domain.AssetKindSkillset:   "skillset.json.tmpl",
	domain.AssetKindIndexer:    "indexer.json.tmpl",
}

// Kinds lists the asset kinds in the order they are provisioned.
var Kinds = []domain.AssetKind{
	domain.AssetKindIndex,
	domain.AssetKindDataSource,
	domain.AssetKindSkillset,
	domain.AssetKindIndexer,
}

// Params are the template variables.
type Params struct {
	IndexName                 string
	DataSourceName            string
	SkillsetName              string
	IndexerName               string
	SemanticConfigurationName string

	Container        string
	ContainerQuery   string
	ConnectionString string

	OpenAIEndpoint      string
	OpenAIAPIKey        string
	EmbeddingDeployment string
	Dimensions          int

	ChunkMaxChars int
	ChunkOverlap  int
	Schedule      string
}

// ParamsFromConfig derives the template variables from the service configuration.
func ParamsFromConfig(cfg *config.Config) Params {
	conn := cfg.StorageConnectionString
	if conn == "" && cfg.StorageAccountResourceID != "" {
		conn = "ResourceId=" + cfg.StorageAccountResourceID + ";"
	}
	return Params{
		IndexName:                 cfg.SearchIndexName,
		DataSourceName:            cfg.DataSourceName(),
		SkillsetName:              cfg.SkillsetName(),
		IndexerName:               cfg.IndexerName(),
		SemanticConfigurationName: cfg.SemanticConfigurationName(),
		Container:                 cfg.ContainerName(),
		ContainerQuery:            cfg.StorageFolder,
		ConnectionString:          conn,
		OpenAIEndpoint:            cfg.OpenAIEndpoint,
		OpenAIAPIKey:              cfg.OpenAIAPIKey,
		EmbeddingDeployment:       cfg.EmbeddingDeployment,
		Dimensions:                cfg.EmbeddingDimensions,
		ChunkMaxChars:             cfg.ChunkMaxChars,
		ChunkOverlap:              cfg.ChunkOverlap,
		Schedule:                  cfg.IndexerSchedule,
	}
}

// RenderJSON renders one asset kind to JSON.
func RenderJSON(kind domain.AssetKind, p Params) ([]byte, error) {
	name, ok := templateByKind[kind]
	if !ok {
		return nil, fmt.Errorf("unknown asset kind %q", kind)
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, p); err != nil {
		return nil, domain.ErrInvalidDefinition.WithCause(fmt.Errorf("render %s: %w", kind, err))
	}
	if !json.Valid(buf.Bytes()) {
		return nil, domain.ErrInvalidDefinition.WithCause(fmt.Errorf("render %s: output is not valid JSON", kind))
	}
	return buf.Bytes(), nil
}

// Render renders every asset, decodes it into its typed definition and
// validates the set.
func Render(p Params) (*domain.SearchAssets, error) {
	var a domain.SearchAssets
	targets := map[domain.AssetKind]any{
		domain.AssetKindIndex:      &a.Index,
		domain.AssetKindDataSource: &a.DataSource,
		domain.AssetKindSkillset:   &a.Skillset,
		domain.AssetKindIndexer:    &a.Indexer,
	}
	for _, kind := range Kinds {
		data, err := RenderJSON(kind, p)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(targets[kind]); err != nil {
			return nil, domain.ErrInvalidDefinition.WithCause(fmt.Errorf("decode %s: %w", kind, err))
		}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
