// Package internal contains the core implementation packages for assetforge.
//
// # Package Organization
//
// The internal packages are organized by pipeline stage:
//
//   - config: Configuration loading, defaults and the immutable Build Context
//   - rules: Ordered rule matching with exclusivity groups
//   - transform: Transform registry, chain resolution and execution
//   - namer: Output name templates and content hashes
//   - syntax: Script and style sheet parsing for scanning and linking
//   - graph: Import scanning, resolution and chunk assignment
//   - optimize: Per-chunk minification and the shared runtime
//   - build: The pipeline tying the stages together, its cache and metrics
//   - server: Development server, websocket hub and error overlay
//   - watcher: File system monitoring with debouncing
//   - errors, logging, validation, version: shared support code
//
// # Data Flow
//
//   - The Build Context is created once from the configuration and the
//     environment snapshot and never modified afterwards
//   - The graph builder asks the matcher which rules apply to each module
//     and the executor runs their chains
//   - The build package names, links and optimizes chunks into an in-memory
//     Result, which is written atomically or served by the dev server
//   - The watcher feeds changed paths to the server, which rebuilds and
//     pushes the classified change over the websocket
//
// # Security Considerations
//
//   - External transform commands must be on the allowlist
//   - Paths are kept within the source, output and static roots
//   - Websocket connections are checked against the allowed origins
package internal
