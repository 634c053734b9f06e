// Package automation turns lead lifecycle events into automation runs.
//
// The Dispatcher resolves an event against the organization's active
// automations, the Pipeline executes one automation's ordered actions and
// records the Run, and the Executor performs a single action through its
// typed handler. Time-based automations are planned onto the scheduled task
// queue by the Planner.
package automation
