package httpserver

import "time"

// ShutdownTimeout bounds how long in-flight requests and prewarm workers get
// to finish after a termination signal.
var ShutdownTimeout = 15 * time.Second
