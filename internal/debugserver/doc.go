// Package debugserver implements the WTL side of the debugger protocol.
//
// A Server listens for a single front-end connection, accepts step,
// continue, stop and breakpoint commands, and reports every WebDriver
// command passed to Intercept. Intercept blocks while the server is in step
// mode or when a breakpoint matches, until the front-end sends step or
// continue.
//
// Proxy puts a Server in front of a WebDriver endpoint so that every
// command a test sends can be paused and inspected.
package debugserver
