// Package initflow provisions a new project by driving a fixed state machine.
//
// States:
//   - IDLE -> CREATING_PROJECT -> LOADING_TEMPLATE -> RENDERING_TEMPLATE ->
//     CREATING_ENVIRONMENTS -> SETTING_UP_REPOSITORY -> CREATING_GITOPS ->
//     FINALIZING -> COMPLETED
//   - any non-terminal state -> FAILED on ERROR
//
// Handlers run strictly in sequence and each one may be skipped when it does
// not apply to the run. A handler error moves the run to FAILED; already
// committed effects stay in place and are removed only by an explicit
// Orchestrator.Cleanup. Slow repository provisioning is handed to the
// repository queue, so a run may complete while the project is still
// initializing.
package initflow
