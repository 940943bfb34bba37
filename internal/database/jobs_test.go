package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookflow/internal/models"
)

func TestJobQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	due := &models.Job{JobType: "abandoned_check", Ref: "1", RunAt: time.Now().Add(-time.Second)}
	later := &models.Job{JobType: "abandoned_check", Ref: "2", RunAt: time.Now().Add(time.Hour)}
	require.NoError(t, db.CreateJob(ctx, due))
	require.NoError(t, db.CreateJob(ctx, later))

	jobs, err := db.GetDueJobs(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)

	ok, err := db.ClaimJob(ctx, due.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.ClaimJob(ctx, due.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	next := time.Now().Add(-time.Millisecond)
	require.NoError(t, db.UpdateJobStatus(ctx, due.ID, models.JobRetry, "temporary", &next))
	jobs, err = db.GetDueJobs(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].RetryCount)
	require.NotNil(t, jobs[0].LastError)
	assert.Equal(t, "temporary", *jobs[0].LastError)

	require.NoError(t, db.UpdateJobStatus(ctx, due.ID, models.JobFailed, "gave up", nil))
	failed, err := db.GetJob(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, failed.Status)
	assert.NotNil(t, failed.ProcessedAt)

	jobs, err = db.GetDueJobs(ctx, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, later.ID, jobs[0].ID)
}

func TestCancelJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := &models.Job{JobType: "abandoned_check", Ref: "7", RunAt: time.Now()}
	b := &models.Job{JobType: "payment_eligible", Ref: "7", RunAt: time.Now()}
	done := &models.Job{JobType: "abandoned_check", Ref: "7", RunAt: time.Now()}
	for _, j := range []*models.Job{a, b, done} {
		require.NoError(t, db.CreateJob(ctx, j))
	}
	require.NoError(t, db.UpdateJobStatus(ctx, done.ID, models.JobCompleted, "", nil))

	ids, err := db.CancelJobs(ctx, "abandoned_check", "7")
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, ids)

	got, err := db.GetJob(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, got.Status)

	ids, err = db.CancelJobs(ctx, "", "7")
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, ids)

	got, err = db.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
}
