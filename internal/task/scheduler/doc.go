// Package scheduler forces naptime on or off at wall-clock times.
//
// A window is a pair of cron expressions: enable_cron turns hibernation on,
// disable_cron turns it off. Either may be empty. Between firings the admin
// toggle still works; the next firing simply sets the flag again.
package scheduler
