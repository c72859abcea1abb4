// Package notifier pushes naptime lifecycle events to operators.
//
// It subscribes to the event bus, renders sleep, wake and toggle events as
// short text lines and hands them to a Sender (the Telegram bot) through a
// bounded queue with a rate limit, retries with jittered backoff and a dedup
// window that keeps a flapping client from flooding the chat.
package notifier
