// Package orchestrator drives an issue through the delivery pipeline.
//
// # Overview
//
// A Controller owns one Session and runs it through the work phases:
//
//	Planning → Researching → DevPlanning → Developing → Verifying → Reporting
//
// Planning, DevPlanning and Verifying pass their output through a quality
// gate. Researching and Developing hand multi-unit batches to an execution
// strategy; Researching then refines weak findings through a gate over
// single-unit reruns.
//
// # Key Components
//
// ## Controller
//
// The Controller is the per-session state machine. It manages:
//   - Phase handler registration, keyed by phase
//   - Progress reporting through a ProgressCallback
//   - Restart requests, observed at phase boundaries
//   - Status notifications, lifecycle events and metrics
//
// ## Manager
//
// The Manager maps inbound issue and comment events to sessions. It holds
// one Controller per issue, starts one goroutine per active run, and builds
// each session's collaborators through a Factory so nothing is shared
// across sessions.
//
// # Artifacts
//
// Every phase commits its output to the session branch at a fixed path:
//
//	plans/PLAN.md
//	research/tasks/<researcher>.json
//	research/<researcher>.md
//	plans/DEVELOPMENT_PLAN.md
//	components/<name>/task.json
//	components/<name>/OUTPUT.md
//	verification/<verifier>.md
//	reports/FINAL_REPORT.md
//
// Gate iterations are recorded under plans/iterations by the session ledger.
//
// # Failure
//
// Any error returned by a phase handler moves the session to Failed and its
// raw message is posted to the issue. There is no retry across phase
// boundaries; a restart command starts over from Planning.
package orchestrator
