package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/jobs"
)

func TestBuildTaskDueScan(t *testing.T) {
	today := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	task, err := buildTask(jobs.TaskMaintenanceDueScan, today)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskMaintenanceDueScan, task.Type())

	var payload jobs.DueScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.True(t, payload.Today.Equal(today))
}

func TestBuildTaskRejectsUnknownJob(t *testing.T) {
	_, err := buildTask(jobs.TaskInventoryWriteOff, time.Time{})
	require.Error(t, err)
}

func TestTriggerWithoutClient(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskMaintenanceDueScan, time.Time{})
	require.Error(t, err)
}
