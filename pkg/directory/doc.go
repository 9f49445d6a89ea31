// Package directory talks to the upstream tournament directory.
//
// It fetches the rendered page for a tournament id, the optional GPX waypoint
// published for the same id, and the statistics page that reveals the highest
// id the directory has assigned so far. Missing pages and transient failures
// are reported as distinct errors because the ingestion pipeline reacts to
// them differently: a missing id ends the range, a transient failure only
// skips that id.
package directory
