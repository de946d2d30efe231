// Package service runs vendor scripts.
//
// Runner is a thin wrapper around os/exec which runs exactly one process:
//   - starts the process in its own process group
//   - splits stdout and stderr into lines as they arrive
//   - kills the whole group on cancellation or timeout and waits for it
//   - classifies the outcome into a model.RunResult
//
// Coordinator executes one model.RunRequest at a time:
//
//	Execute
//	   |-- resolving       validate request, read the config snapshot
//	   |-- materializing   write the embedded script to a temp file
//	   |-- launching       build the argument vector, start Runner
//	   |-- streaming       lines -> bounded channel -> sink
//	   |-- completed | cancelled | failed
//	   `-- cleaned-up      temp file removed, sink never called again
//
// Invariants:
//   - At most one run per Coordinator. Parallel runs use more Coordinators.
//   - Every run ends in cleaned-up, whatever phase it failed in.
//   - Lines of one stream keep their order and the sink is called from a
//     single goroutine.
//   - A timeout is a cancellation.
package service
