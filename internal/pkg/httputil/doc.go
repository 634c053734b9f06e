// Package httputil holds the JSON response envelope and request parsing
// helpers shared by the API handlers.
package httputil
