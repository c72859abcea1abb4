// Package naptime hibernates the host while no clients are connected.
//
// A Driver binds Controller.Tick to the host's tick clock. Each tick the
// controller decides whether the host should sleep, and on the first idle
// tick runs the sleep hooks and reclaims regions before starting repeated
// micro-sleeps through a pause.Engine. The first tick with a client online
// runs the wake hooks and returns to AWAKE.
package naptime
