package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPipeline(t *testing.T, db *testDB, stageNames ...string) (*PipelineEntity, []*PipelineStageEntity) {
	t.Helper()
	pipeline := &PipelineEntity{Name: "Sales pipeline"}
	require.NoError(t, db.rawDB.Create(pipeline).Error)

	stages := make([]*PipelineStageEntity, 0, len(stageNames))
	for i, name := range stageNames {
		stage := &PipelineStageEntity{PipelineID: pipeline.ID, Name: name, Position: i}
		require.NoError(t, db.rawDB.Create(stage).Error)
		stages = append(stages, stage)
	}
	return pipeline, stages
}

func TestPipelineRepository_GetStages(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPipelineRepository(db.DB)
	ctx := context.Background()

	pipeline, _ := seedPipeline(t, db, "Prospect", "Connected", "Replied")

	stages, err := repo.GetStages(ctx, pipeline.ID)
	require.NoError(t, err)
	require.Len(t, stages, 3)

	assert.Equal(t, "Prospect", stages[0].Name)
	assert.Equal(t, 0, stages[0].Position)
	assert.Equal(t, "Replied", stages[2].Name)

	empty, err := repo.GetStages(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPipelineRepository_UpsertAssignment(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPipelineRepository(db.DB)
	ctx := context.Background()

	pipeline, stages := seedPipeline(t, db, "Prospect", "Connected", "Replied")

	require.NoError(t, repo.UpsertAssignment(ctx, pipeline.ID, 50, stages[1].ID))

	var count int64
	db.rawDB.Model(&PipelineAssignmentEntity{}).Count(&count)
	assert.Equal(t, int64(1), count)

	// Moving the same contact updates in place instead of adding a row
	require.NoError(t, repo.UpsertAssignment(ctx, pipeline.ID, 50, stages[2].ID))

	db.rawDB.Model(&PipelineAssignmentEntity{}).Count(&count)
	assert.Equal(t, int64(1), count)

	var assignment PipelineAssignmentEntity
	require.NoError(t, db.rawDB.Where("pipeline_id = ? AND contact_id = ?", pipeline.ID, 50).First(&assignment).Error)
	assert.Equal(t, stages[2].ID, assignment.StageID)

	// Different contacts keep their own rows
	require.NoError(t, repo.UpsertAssignment(ctx, pipeline.ID, 51, stages[1].ID))
	db.rawDB.Model(&PipelineAssignmentEntity{}).Count(&count)
	assert.Equal(t, int64(2), count)
}
