// Package server implements the qr-stamp web front end.
//
// The server is a gin application with a plain HTML form at "/" and a small
// JSON API under "/api". Templates and link lists arrive as multipart
// uploads; batch jobs run in the background and are polled by ID.
//
// # Routes
//
//   - GET  /                     upload form
//   - GET  /api                  endpoint catalog
//   - POST /api/detect           template → page size and zones (JSON)
//   - POST /api/preview          template → PNG with zones and placement drawn
//   - GET  /api/qr?url=          QR code PNG for one link
//   - POST /api/jobs             template + links → 202 with job ID
//   - GET  /api/jobs             recent jobs
//   - GET  /api/jobs/:id         one job
//   - DELETE /api/jobs/:id       cancel a running job
//   - GET  /api/jobs/:id/archive finished zip archive
//   - GET  /healthz              liveness
//
// # Errors
//
// Every API error is a JSON object {"error": "..."}. Bad input maps to 400,
// templates without a usable zone to 422, unknown jobs to 404, oversized
// uploads to 413 and a missing poppler installation to 503.
//
// # Placement parameters
//
// The detect, preview and jobs endpoints accept the placement form fields
// mode, size, min_size, margin, align, zone_index, fallback, x and y, and the
// detection overrides white_threshold, min_area_ratio, max_area_ratio,
// min_aspect and max_aspect.
package server
