// Package fifowrap is the core of the fifowrap application: a wrapper that runs
// a single long-lived child process, feeds it commands from a named pipe and
// stops it on request.
//
// # Mechanism of Operation
//
// # Command Channel
//
// External actors write newline-terminated commands into a FIFO that already
// exists on disk. A relay goroutine opens the FIFO for reading, which blocks
// until a writer connects, and copies every line into the child's standard
// input through an anonymous pipe. When the writer goes away the relay simply
// opens the FIFO again, so any number of writers can come and go.
//
// Opening a FIFO can't be canceled, so a relay that needs to stop while
// blocked in open(2) is released by briefly connecting to the FIFO as a writer
// ourselves. A relay that still doesn't stop in time is revoked and can no
// longer write into the child.
//
// Signals
//
//	SIGINT, SIGTERM  stop the child, escalating as needed
//	SIGHUP           restart the relay, e.g. after the FIFO was recreated
//	SIGUSR1          send the save-off command
//	SIGUSR2          send the save-on command
//
// # Shutdown
//
// The stop command is written to the child first. If the child is still
// around after ShutdownStageTimeout, it gets SIGTERM, then SIGKILL after the
// same timeout again. If even that doesn't reap it, the supervisor gives up and
// exits with status 1. A shutdown can only happen once; further shutdown
// signals are logged and ignored.
package fifowrap
