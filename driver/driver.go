// Package driver declares the cluster-message driver collaborator (spec §6).
// The driver itself — the transport that actually carries launch/kill
// messages to worker agents — is an external collaborator per spec §1 and
// is not implemented here; callers supply any implementation satisfying
// Driver.
package driver

import "github.com/taskforge/scheduler/structs"

// TaskStatusReport is one agent-observed status used by reconciliation.
type TaskStatusReport struct {
	TaskID string
	Status structs.Status
}

// Driver is the outbound interface to the cluster-message transport.
// Calls may fail transiently; implementations are expected to retry
// internally (spec §6) — the core treats every call as fire-and-forget and
// relies on reconciliation to converge.
type Driver interface {
	LaunchTask(offerID string, task *structs.Task) error
	KillTask(taskID string) error
	DeclineOffer(offerID string, filterDuration int64) error
	ReconcileTasks(statuses []TaskStatusReport) error
}
