package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knowledgeIndex() IndexDefinition {
	return IndexDefinition{
		Name: "products",
		Fields: []IndexField{
			{Name: "chunk_id", Type: FieldTypeString, Key: true, Retrievable: true, Analyzer: "keyword"},
			{Name: "parent_id", Type: FieldTypeString, Filterable: true},
			{Name: "title", Type: FieldTypeString, Searchable: true, Retrievable: true},
			{Name: "path", Type: FieldTypeString, Retrievable: true},
			{Name: "chunk", Type: FieldTypeString, Searchable: true, Retrievable: true},
			{Name: "vector", Type: FieldTypeSingleVector, Searchable: true, Dimensions: 1536, VectorSearchProfile: "products-profile"},
		},
	}
}

func TestIndexDefinition_Validate(t *testing.T) {
	def := knowledgeIndex()
	require.NoError(t, def.Validate())

	t.Run("missing key", func(t *testing.T) {
		d := knowledgeIndex()
		d.Fields[0].Key = false
		err := d.Validate()
		assert.True(t, errors.Is(err, ErrInvalidDefinition))
	})

	t.Run("duplicate field", func(t *testing.T) {
		d := knowledgeIndex()
		d.Fields = append(d.Fields, IndexField{Name: "title", Type: FieldTypeString})
		assert.Error(t, d.Validate())
	})

	t.Run("vector without dimensions", func(t *testing.T) {
		d := knowledgeIndex()
		d.Fields[5].Dimensions = 0
		assert.Error(t, d.Validate())
	})
}

func TestIndexDefinition_CheckCompatible(t *testing.T) {
	existing := knowledgeIndex()

	t.Run("unchanged", func(t *testing.T) {
		d := knowledgeIndex()
		assert.NoError(t, d.CheckCompatible(&existing))
	})

	t.Run("new field and attribute change", func(t *testing.T) {
		d := knowledgeIndex()
		d.Fields[2].Filterable = true
		d.Fields = append(d.Fields, IndexField{Name: "category", Type: FieldTypeString})
		assert.NoError(t, d.CheckCompatible(&existing))
	})

	t.Run("type change", func(t *testing.T) {
		d := knowledgeIndex()
		d.Fields[3].Type = FieldTypeInt32
		err := d.CheckCompatible(&existing)
		require.Error(t, err)
		assert.Equal(t, ErrCodeSchemaConflict, CodeOf(err))
		assert.Contains(t, err.Error(), "path")
	})

	t.Run("dimension change", func(t *testing.T) {
		d := knowledgeIndex()
		d.Fields[5].Dimensions = 3072
		assert.True(t, errors.Is(d.CheckCompatible(&existing), ErrSchemaConflict))
	})

	t.Run("removed field", func(t *testing.T) {
		d := knowledgeIndex()
		d.Fields = d.Fields[:4]
		assert.True(t, HasCode(d.CheckCompatible(&existing), ErrCodeSchemaConflict))
	})

	t.Run("no existing index", func(t *testing.T) {
		d := knowledgeIndex()
		assert.NoError(t, d.CheckCompatible(nil))
	})
}

func TestSearchAssets_Validate(t *testing.T) {
	assets := SearchAssets{
		Index:      knowledgeIndex(),
		DataSource: DataSourceDefinition{Name: "products-datasource", Type: "azureblob", Container: DataSourceContainer{Name: "products"}},
		Skillset:   SkillsetDefinition{Name: "products-skillset", Skills: []Skill{{ODataType: SkillTypeSplit}}},
		Indexer: IndexerDefinition{
			Name:            "products-indexer",
			DataSourceName:  "products-datasource",
			SkillsetName:    "products-skillset",
			TargetIndexName: "products",
		},
	}
	require.NoError(t, assets.Validate())

	assets.Indexer.TargetIndexName = "other"
	err := assets.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, CodeOf(err))
}

func TestIndexerStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    *IndexerStatus
		running   bool
		succeeded bool
		failed    bool
	}{
		{"never ran", &IndexerStatus{Status: "running"}, false, false, false},
		{"in progress", &IndexerStatus{LastResult: &IndexerExecutionResult{Status: IndexerRunInProgress}}, true, false, false},
		{"success", &IndexerStatus{LastResult: &IndexerExecutionResult{Status: IndexerRunSuccess}}, false, true, false},
		{"transient failure", &IndexerStatus{LastResult: &IndexerExecutionResult{Status: IndexerRunTransientFailure}}, false, false, true},
		{"reset", &IndexerStatus{LastResult: &IndexerExecutionResult{Status: IndexerRunReset}}, false, false, false},
		{"nil", nil, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.running, tt.status.Running())
			assert.Equal(t, tt.succeeded, tt.status.Succeeded())
			assert.Equal(t, tt.failed, tt.status.Failed())
		})
	}
}
