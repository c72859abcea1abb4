package eventbus

// Event types published by naptimed.
const (
	TypeSleep        = "naptime.sleep"
	TypeWake         = "naptime.wake"
	TypeToggle       = "naptime.toggle"
	TypeEpisodeEnded = "naptime.episode"
	TypeWindow       = "naptime.window"
	TypeConfigReload = "config.reload"
	TypeClientJoin   = "host.client.join"
	TypeClientLeave  = "host.client.leave"
)
