// Package server hosts the Fiber HTTP service, the request middleware chain
// and the site registry that maps an incoming Host header to the site whose
// offline cache policy should handle it. Diagnostics under /-/ bypass the
// host lookup and are registered by the routes subpackage.
package server
