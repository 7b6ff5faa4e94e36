// Package manager owns the lifecycle of the captioning resource: a single,
// expensive vision model that is loaded lazily, serves caption requests, and is
// evicted after an idle window to give its device memory back. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type and simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: State, Snapshot.
//   - device.go: compute device detection (cuda > metal > cpu).
//   - errors.go: error types and helpers (IsLoadFailure, IsGenerationFailure).
//   - adapter_iface.go: Loader/Handle abstractions and NewLoader.
//   - adapter_llama_subprocess.go: spawns llama-server with a vision model.
//   - adapter_llama_server.go: talks to an already running llama-server.
//   - llama_chat.go: OpenAI-compatible chat client shared by both loaders.
//   - events.go, eventpub_memory.go: lifecycle events and publishers.
//   - ensure.go: EnsureLoaded and the load transition.
//   - idle.go: IdleTimer and Touch.
//   - evict.go: Evict, idle eviction and Shutdown.
//   - infer.go: Generate, the caption entry point.
//   - image.go: image decoding and RGB normalization.
//   - status_report.go: Snapshot/Status reporting helpers.
//   - sanity.go: dependency checks for the CLI.
//   - metrics.go: Prometheus collectors.
//
// Only load and evict transitions take the Manager lock exclusively. Generate
// holds it shared for the duration of the inference call, so an idle eviction
// that fires mid-call waits for the call to finish and then re-checks the idle
// window before tearing the resource down.
package manager
