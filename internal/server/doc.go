// Package server hosts the Fiber admin service for the image cache: request ID
// and recover middleware, the /-/metrics endpoint, and a JSON 404 fallback.
// Cache routes live in the routes subpackage and are attached by the binary,
// so tests can build an app with only the pieces they need. Keep exports narrow
// and accept explicit dependencies.
package server
