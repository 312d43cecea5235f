// Package httputil provides the JSON response envelope and request
// decoding helpers shared by every HTTP handler.
package httputil
