package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AssetKind names a search service resource collection.
type AssetKind string

const (
	AssetKindIndex      AssetKind = "indexes"
	AssetKindDataSource AssetKind = "datasources"
	AssetKindSkillset   AssetKind = "skillsets"
	AssetKindIndexer    AssetKind = "indexers"
)

// Field types used by the knowledge index.
const (
	FieldTypeString       = "Edm.String"
	FieldTypeInt32        = "Edm.Int32"
	FieldTypeSingleVector = "Collection(Edm.Single)"
)

// Skill types understood by the indexer pipeline.
const (
	SkillTypeSplit     = "#Microsoft.Skills.Text.SplitSkill"
	SkillTypeEmbedding = "#Microsoft.Skills.Text.AzureOpenAIEmbeddingSkill"
)

// IndexField declares one field of a search index.
type IndexField struct {
	Name                string `json:"name"`
	Type                string `json:"type"`
	Key                 bool   `json:"key"`
	Searchable          bool   `json:"searchable"`
	Retrievable         bool   `json:"retrievable"`
	Filterable          bool   `json:"filterable"`
	Sortable            bool   `json:"sortable"`
	Facetable           bool   `json:"facetable"`
	Analyzer            string `json:"analyzer,omitempty"`
	Dimensions          int    `json:"dimensions,omitempty"`
	VectorSearchProfile string `json:"vectorSearchProfile,omitempty"`
}

// IsVector reports whether the field holds embeddings.
func (f IndexField) IsVector() bool {
	return f.Type == FieldTypeSingleVector
}

// IndexDefinition is the schema of a search index.
type IndexDefinition struct {
	Name         string          `json:"name"`
	Fields       []IndexField    `json:"fields"`
	VectorSearch json.RawMessage `json:"vectorSearch,omitempty"`
	Semantic     json.RawMessage `json:"semantic,omitempty"`
}

// Validate checks the definition is well formed.
func (d *IndexDefinition) Validate() error {
	if d.Name == "" {
		return ErrInvalidDefinition.WithCause(errMissing("index name"))
	}
	seen := make(map[string]bool, len(d.Fields))
	keys := 0
	for _, f := range d.Fields {
		if f.Name == "" || f.Type == "" {
			return ErrInvalidDefinition.WithCause(fmt.Errorf("index %s: field name and type are required", d.Name))
		}
		if seen[f.Name] {
			return ErrInvalidDefinition.WithCause(fmt.Errorf("index %s: duplicate field %q", d.Name, f.Name))
		}
		seen[f.Name] = true
		if f.Key {
			keys++
			if f.Type != FieldTypeString {
				return ErrInvalidDefinition.WithCause(fmt.Errorf("index %s: key field %q must be %s", d.Name, f.Name, FieldTypeString))
			}
		}
		if f.IsVector() && f.Dimensions <= 0 {
			return ErrInvalidDefinition.WithCause(fmt.Errorf("index %s: vector field %q needs dimensions", d.Name, f.Name))
		}
	}
	if keys != 1 {
		return ErrInvalidDefinition.WithCause(fmt.Errorf("index %s: exactly one key field is required, got %d", d.Name, keys))
	}
	return nil
}

// Field returns the named field, or nil.
func (d *IndexDefinition) Field(name string) *IndexField {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// KeyField returns the key field, or nil.
func (d *IndexDefinition) KeyField() *IndexField {
	for i := range d.Fields {
		if d.Fields[i].Key {
			return &d.Fields[i]
		}
	}
	return nil
}

// VectorField returns the first vector field, or nil.
func (d *IndexDefinition) VectorField() *IndexField {
	for i := range d.Fields {
		if d.Fields[i].IsVector() {
			return &d.Fields[i]
		}
	}
	return nil
}

// CheckCompatible reports ErrSchemaConflict when d cannot replace existing in
// place: a field was removed, or its type, key flag or dimensions changed.
// Adding fields and toggling attributes is allowed.
func (d *IndexDefinition) CheckCompatible(existing *IndexDefinition) error {
	if existing == nil {
		return nil
	}
	for _, old := range existing.Fields {
		f := d.Field(old.Name)
		switch {
		case f == nil:
			return ErrSchemaConflict.WithCause(fmt.Errorf("field %q cannot be removed", old.Name))
		case f.Type != old.Type:
			return ErrSchemaConflict.WithCause(fmt.Errorf("field %q type cannot change from %s to %s", old.Name, old.Type, f.Type))
		case f.Key != old.Key:
			return ErrSchemaConflict.WithCause(fmt.Errorf("field %q key attribute cannot change", old.Name))
		case f.Dimensions != old.Dimensions:
			return ErrSchemaConflict.WithCause(fmt.Errorf("field %q dimensions cannot change from %d to %d", old.Name, old.Dimensions, f.Dimensions))
		}
	}
	return nil
}

// DataSourceCredentials holds the storage connection for a data source.
type DataSourceCredentials struct {
	ConnectionString string `json:"connectionString"`
}

// DataSourceContainer selects the container (and optional folder) to index.
type DataSourceContainer struct {
	Name  string `json:"name"`
	Query string `json:"query,omitempty"`
}

// DataSourceDefinition points an indexer at object storage.
type DataSourceDefinition struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Type        string                `json:"type"`
	Credentials DataSourceCredentials `json:"credentials"`
	Container   DataSourceContainer   `json:"container"`
}

// Validate checks required fields
func (d *DataSourceDefinition) Validate() error {
	switch {
	case d.Name == "":
		return ErrInvalidDefinition.WithCause(errMissing("data source name"))
	case d.Type == "":
		return ErrInvalidDefinition.WithCause(errMissing("data source type"))
	case d.Container.Name == "":
		return ErrInvalidDefinition.WithCause(errMissing("data source container"))
	}
	return nil
}

// SkillInput maps an enrichment tree path to a skill input.
type SkillInput struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// SkillOutput names a skill output in the enrichment tree.
type SkillOutput struct {
	Name       string `json:"name"`
	TargetName string `json:"targetName,omitempty"`
}

// Skill is one enrichment step. Only the parameters of the split and
// embedding skills are modelled.
type Skill struct {
	ODataType           string        `json:"@odata.type"`
	Name                string        `json:"name,omitempty"`
	Description         string        `json:"description,omitempty"`
	Context             string        `json:"context,omitempty"`
	DefaultLanguageCode string        `json:"defaultLanguageCode,omitempty"`
	TextSplitMode       string        `json:"textSplitMode,omitempty"`
	MaximumPageLength   int           `json:"maximumPageLength,omitempty"`
	PageOverlapLength   int           `json:"pageOverlapLength,omitempty"`
	ResourceURI         string        `json:"resourceUri,omitempty"`
	DeploymentID        string        `json:"deploymentId,omitempty"`
	APIKey              string        `json:"apiKey,omitempty"`
	Inputs              []SkillInput  `json:"inputs"`
	Outputs             []SkillOutput `json:"outputs"`
}

// SkillsetDefinition is the enrichment pipeline applied before indexing.
type SkillsetDefinition struct {
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Skills           []Skill         `json:"skills"`
	IndexProjections json.RawMessage `json:"indexProjections,omitempty"`
}

// Validate checks required fields
func (d *SkillsetDefinition) Validate() error {
	if d.Name == "" {
		return ErrInvalidDefinition.WithCause(errMissing("skillset name"))
	}
	for i, s := range d.Skills {
		if s.ODataType == "" {
			return ErrInvalidDefinition.WithCause(fmt.Errorf("skillset %s: skill %d has no @odata.type", d.Name, i))
		}
	}
	return nil
}

// Skill returns the first skill of the given type, or nil.
func (d *SkillsetDefinition) Skill(odataType string) *Skill {
	for i := range d.Skills {
		if d.Skills[i].ODataType == odataType {
			return &d.Skills[i]
		}
	}
	return nil
}

// IndexerSchedule runs an indexer periodically.
type IndexerSchedule struct {
	Interval  string     `json:"interval"`
	StartTime *time.Time `json:"startTime,omitempty"`
}

// IndexerDefinition binds data source, skillset and target index.
type IndexerDefinition struct {
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	DataSourceName  string           `json:"dataSourceName"`
	SkillsetName    string           `json:"skillsetName,omitempty"`
	TargetIndexName string           `json:"targetIndexName"`
	Schedule        *IndexerSchedule `json:"schedule,omitempty"`
	Parameters      json.RawMessage  `json:"parameters,omitempty"`
	FieldMappings   json.RawMessage  `json:"fieldMappings,omitempty"`
}

// Validate checks required fields
func (d *IndexerDefinition) Validate() error {
	switch {
	case d.Name == "":
		return ErrInvalidDefinition.WithCause(errMissing("indexer name"))
	case d.DataSourceName == "":
		return ErrInvalidDefinition.WithCause(errMissing("indexer dataSourceName"))
	case d.TargetIndexName == "":
		return ErrInvalidDefinition.WithCause(errMissing("indexer targetIndexName"))
	}
	return nil
}

// Indexer execution statuses as reported by the search service.
const (
	IndexerRunInProgress       = "inProgress"
	IndexerRunSuccess          = "success"
	IndexerRunTransientFailure = "transientFailure"
	IndexerRunReset            = "reset"
)

// IndexerExecutionResult describes one indexer run.
type IndexerExecutionResult struct {
	ID             string     `json:"id,omitempty"`
	Status         string     `json:"status"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	ItemsProcessed int        `json:"itemsProcessed"`
	ItemsFailed    int        `json:"itemsFailed"`
}

// IndexerRun identifies a queued execution of a self-hosted indexer.
type IndexerRun struct {
	ID          string
	IndexerName string
}

// IndexerStatus is the current state of an indexer.
type IndexerStatus struct {
	Name             string                   `json:"name,omitempty"`
	Status           string                   `json:"status"`
	LastResult       *IndexerExecutionResult  `json:"lastResult"`
	ExecutionHistory []IndexerExecutionResult `json:"executionHistory,omitempty"`
}

// Running reports whether a run is in progress.
func (s *IndexerStatus) Running() bool {
	return s != nil && s.LastResult != nil && s.LastResult.Status == IndexerRunInProgress
}

// Succeeded reports whether the last run completed successfully.
func (s *IndexerStatus) Succeeded() bool {
	return s != nil && s.LastResult != nil && s.LastResult.Status == IndexerRunSuccess
}

// Failed reports whether the last run ended in failure.
func (s *IndexerStatus) Failed() bool {
	if s == nil || s.LastResult == nil {
		return false
	}
	switch s.LastResult.Status {
	case IndexerRunInProgress, IndexerRunSuccess, IndexerRunReset:
		return false
	}
	return true
}

// SearchAssets is the full set of definitions a provisioning run applies.
type SearchAssets struct {
	Index      IndexDefinition
	DataSource DataSourceDefinition
	Skillset   SkillsetDefinition
	Indexer    IndexerDefinition
}

// Validate checks every definition and the references between them.
func (a *SearchAssets) Validate() error {
	if err := a.Index.Validate(); err != nil {
		return err
	}
	if err := a.DataSource.Validate(); err != nil {
		return err
	}
	if err := a.Skillset.Validate(); err != nil {
		return err
	}
	if err := a.Indexer.Validate(); err != nil {
		return err
	}
	if a.Indexer.TargetIndexName != a.Index.Name {
		return ErrInvalidDefinition.WithCause(fmt.Errorf("indexer %s targets %q, expected %q", a.Indexer.Name, a.Indexer.TargetIndexName, a.Index.Name))
	}
	if a.Indexer.DataSourceName != a.DataSource.Name {
		return ErrInvalidDefinition.WithCause(fmt.Errorf("indexer %s reads %q, expected %q", a.Indexer.Name, a.Indexer.DataSourceName, a.DataSource.Name))
	}
	if a.Indexer.SkillsetName != "" && a.Indexer.SkillsetName != a.Skillset.Name {
		return ErrInvalidDefinition.WithCause(fmt.Errorf("indexer %s uses skillset %q, expected %q", a.Indexer.Name, a.Indexer.SkillsetName, a.Skillset.Name))
	}
	return nil
}
