// Package httputil carries the HTTP boundary conventions for the audience
// engine: one JSON envelope for every response and a single mapping from the
// engine's error taxonomy onto statuses (EngineError). Handlers stay thin by
// delegating both instead of writing raw http.ResponseWriter calls or
// inspecting errors themselves.
package httputil
