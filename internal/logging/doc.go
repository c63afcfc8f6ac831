// Package logging wires log/slog for the pipeline: a console handler for
// interactive use, a JSON handler for machine consumption, standardized
// attribute keys, and context helpers that thread run and phase identifiers
// through every stage.
package logging
