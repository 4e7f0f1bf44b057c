// Package api serves the read-only status endpoints: the live address set,
// the instance list, and the last cycle report, all from the control loop's
// published snapshot.
package api
