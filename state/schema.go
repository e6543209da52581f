package state

import (
	"github.com/hashicorp/go-memdb"

	"github.com/taskforge/scheduler/structs"
)

// taskRow is the go-memdb row wrapper for structs.Task: memdb indexes plain
// exported struct fields by reflection, so the composite keys the spec's
// TaskStore queries need (by job, by instance, by slave-assigned status)
// are flattened into their own string/bool fields alongside the task
// itself.
type taskRow struct {
	ID            string
	JobKey        string
	InstanceKey   string
	Status        string
	Host          string
	SlaveAssigned bool
	Task          *structs.Task
}

func newTaskRow(t *structs.Task) *taskRow {
	return &taskRow{
		ID:            t.ID,
		JobKey:        t.Job.String(),
		InstanceKey:   t.InstanceKey().String(),
		Status:        string(t.State),
		Host:          t.AssignedHost,
		SlaveAssigned: t.AssignedAgent != "",
		Task:          t,
	}
}

type attributeRow struct {
	Host  string
	Attrs structs.HostAttributes
}

type quotaRow struct {
	Role  string
	Quota structs.Quota
}

// schedulerRow holds the single cluster-framework identifier (spec §3
// "Scheduler store: Single-valued cluster-framework identifier").
type schedulerRow struct {
	ID          string
	FrameworkID string
}

const schedulerRowID = "singleton"

func newSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"tasks": {
				Name: "tasks",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"instance": {
						Name:    "instance",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "InstanceKey"},
					},
					"job": {
						Name:    "job",
						Indexer: &memdb.StringFieldIndex{Field: "JobKey"},
					},
					"status": {
						Name:    "status",
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
					"host": {
						Name:    "host",
						Indexer: &memdb.StringFieldIndex{Field: "Host"},
					},
					"slave_assigned": {
						Name:    "slave_assigned",
						Indexer: &memdb.BoolFieldIndex{Field: "SlaveAssigned"},
					},
				},
			},
			"attributes": {
				Name: "attributes",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Host"},
					},
				},
			},
			"quotas": {
				Name: "quotas",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Role"},
					},
				},
			},
			"scheduler": {
				Name: "scheduler",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
}
