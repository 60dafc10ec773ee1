package ability

// State is the lifecycle state of an ability record.
type State int

const (
	Initial State = iota
	Inactive
	Active
	Background
	Suspended
	Inactivating
	Activating
	MovingBackground
	Terminating
	ForegroundNew
	BackgroundNew
	ForegroundingNew
	BackgroundingNew
)

var stateNames = map[State]string{
	Initial:          "INITIAL",
	Inactive:         "INACTIVE",
	Active:           "ACTIVE",
	Background:       "BACKGROUND",
	Suspended:        "SUSPENDED",
	Inactivating:     "INACTIVATING",
	Activating:       "ACTIVATING",
	MovingBackground: "MOVING_BACKGROUND",
	Terminating:      "TERMINATING",
	ForegroundNew:    "FOREGROUND_NEW",
	BackgroundNew:    "BACKGROUND_NEW",
	ForegroundingNew: "FOREGROUNDING_NEW",
	BackgroundingNew: "BACKGROUNDING_NEW",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "INVALIDSTATE"
}

// ParseState maps a state name back to its value.
func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return Initial, false
}

// IsForeground reports whether s is a settled visible state.
func (s State) IsForeground() bool {
	return s == Active || s == ForegroundNew
}

// AppState is the state of the application process hosting a record.
type AppState int

const (
	AppBegin AppState = iota
	AppReady
	AppForeground
	AppBackground
	AppSuspended
	AppTerminated
	AppEnd
)

var appStateNames = map[AppState]string{
	AppBegin:      "BEGIN",
	AppReady:      "READY",
	AppForeground: "FOREGROUND",
	AppBackground: "BACKGROUND",
	AppSuspended:  "SUSPENDED",
	AppTerminated: "TERMINATED",
	AppEnd:        "END",
}

func (s AppState) String() string {
	if name, ok := appStateNames[s]; ok {
		return name
	}
	return "INVALIDSTATE"
}

// EventMsg identifies a lifecycle timeout.
type EventMsg int

const (
	LoadTimeoutMsg EventMsg = iota + 1
	ActiveTimeoutMsg
	InactiveTimeoutMsg
	BackgroundTimeoutMsg
	TerminateTimeoutMsg
	ForegroundNewTimeoutMsg
	BackgroundNewTimeoutMsg
)

func (m EventMsg) String() string {
	switch m {
	case LoadTimeoutMsg:
		return "load"
	case ActiveTimeoutMsg:
		return "active"
	case InactiveTimeoutMsg:
		return "inactive"
	case BackgroundTimeoutMsg:
		return "background"
	case TerminateTimeoutMsg:
		return "terminate"
	case ForegroundNewTimeoutMsg:
		return "foreground_new"
	case BackgroundNewTimeoutMsg:
		return "background_new"
	default:
		return "unknown"
	}
}
