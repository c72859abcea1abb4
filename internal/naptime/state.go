package naptime

// Phase is the controller's position in a sleep episode.
type Phase uint32

const (
	Awake Phase = iota
	SleepEntered
	Sleeping
)

func (p Phase) String() string {
	switch p {
	case Awake:
		return "AWAKE"
	case SleepEntered:
		return "SLEEP_ENTERED"
	case Sleeping:
		return "SLEEPING"
	default:
		return "UNKNOWN"
	}
}

// Asleep reports whether p belongs to a sleep episode.
func (p Phase) Asleep() bool { return p == SleepEntered || p == Sleeping }

// Action is the side effect a tick must perform.
type Action uint8

const (
	ActNone       Action = iota
	ActEnterSleep        // sleep hooks, reclaim, one micro-sleep
	ActMicroSleep
	ActWake // wake hooks
)

func (a Action) String() string {
	switch a {
	case ActNone:
		return "none"
	case ActEnterSleep:
		return "enter_sleep"
	case ActMicroSleep:
		return "micro_sleep"
	case ActWake:
		return "wake"
	default:
		return "unknown"
	}
}

// Transition is the pure state function evaluated once per tick.
func Transition(p Phase, shouldSleep bool) (Phase, Action) {
	if !shouldSleep {
		if p.Asleep() {
			return Awake, ActWake
		}
		return Awake, ActNone
	}
	if p == Awake {
		return SleepEntered, ActEnterSleep
	}
	return Sleeping, ActMicroSleep
}
