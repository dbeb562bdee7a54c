// Package middleware provides HTTP middleware for the session API: request
// metrics, request logging, body limits, security headers and CORS.
package middleware
