// Package host is the always-on, tick-driven server that naptime hibernates.
//
// It owns:
//   - the tick loop ("Server thread") with synchronous repeating tasks
//   - worlds made of independently loadable regions, persisted as JSON
//   - a TCP line server where every logged-in connection is a client
//   - the console command registry
//   - background workers that park at checkpoints during a micro-sleep
package host
