package ability

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// apiVersion7 is the last compatible version using the legacy lifecycle.
const apiVersion7 = 7

var (
	recordIDs = id.NewSequence(-1)
	eventIDs  = id.NewSequence(0)
)

// CallType marks how a request wants to reach its target.
type CallType int

const (
	InvalidCallType CallType = iota
	CallRequestType
)

// Request carries everything needed to start an ability.
type Request struct {
	Want              *types.Want
	AbilityInfo       types.AbilityInfo
	AppInfo           types.ApplicationInfo
	UID               int32
	RequestCode       int
	Restart           bool
	CompatibleVersion int

	CallerUID   int32
	CallType    CallType
	CallerToken *Token
	Connect     Connection
}

// IsNewVersion reports whether the target uses the new lifecycle family.
func (r *Request) IsNewVersion() bool {
	return r.CompatibleVersion > apiVersion7
}

// IsContinuation reports whether the want asks for migration.
func (r *Request) IsContinuation() bool {
	return r.Want.HasFlag(types.FlagAbilityContinuation)
}

// IsCallType reports the call type.
func (r *Request) IsCallType(t CallType) bool {
	return r.CallType == t
}

// Connection is the caller side of a bind. The remote object identifies
// the connection and carries its death notification.
type Connection interface {
	OnAbilityConnectDone(element types.ElementName, remote ipc.RemoteObject, resultCode int)
	OnAbilityDisconnectDone(element types.ElementName, resultCode int)
	Object() ipc.RemoteObject
}

// Handler is the owning manager's event loop as seen by a record.
type Handler interface {
	// SendEvent arms a timeout keyed by eventID.
	SendEvent(msg EventMsg, eventID int64, after time.Duration)
	// PostTimeoutTask runs fn after the delay unless the eventID is cancelled.
	PostTimeoutTask(eventID int64, after time.Duration, fn func())
	PostTask(fn func())
	OnAbilityDied(r *Record)
	OnCallConnectDied(c *CallRecord)
}

// AppScheduler is the application-process manager as seen by a record.
type AppScheduler interface {
	LoadAbility(token, preToken *Token, ability types.AbilityInfo, app types.ApplicationInfo) error
	TerminateAbility(token *Token) error
	MoveToForeground(token *Token)
	MoveToBackground(token *Token)
	AbilityBehaviorAnalysis(token, preToken *Token, visibility, perceptibility, connectionState int)
	KillProcessByAbilityToken(token *Token)
}

// URIGranter grants URI permissions carried by result wants.
type URIGranter interface {
	GrantURIPermission(want *types.Want, flags int, targetBundle string)
}

// Timeouts holds the lifecycle timeout durations.
type Timeouts struct {
	Load          time.Duration
	Active        time.Duration
	Inactive      time.Duration
	Background    time.Duration
	Terminate     time.Duration
	ForegroundNew time.Duration
}

// DefaultTimeouts mirrors the system defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Load:          10 * time.Second,
		Active:        5 * time.Second,
		Inactive:      500 * time.Millisecond,
		Background:    3 * time.Second,
		Terminate:     6 * time.Second,
		ForegroundNew: 5 * time.Second,
	}
}

// Env holds the collaborators a record talks to.
type Env struct {
	Handler    Handler
	Apps       AppScheduler
	Arena      *Arena
	URIs       URIGranter
	Timeouts   Timeouts
	RestartMax int
	Logger     *zap.Logger
}

// AbilityResult is a pending result for a caller.
type AbilityResult struct {
	RequestCode int
	ResultCode  int
	Want        *types.Want
}

// CallerRecord names one ability that started this record.
type CallerRecord struct {
	RequestCode int
	CallerID    int64
}

// ConnectionState tracks one bind.
type ConnectionState int

const (
	ConnInit ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnecting
	ConnDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnInit:
		return "INIT"
	case ConnConnecting:
		return "CONNECTING"
	case ConnConnected:
		return "CONNECTED"
	case ConnDisconnecting:
		return "DISCONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// ConnectionRecord is one outstanding bind to a service record.
type ConnectionRecord struct {
	ID       int64
	State    ConnectionState
	CallerID int64
	Callback Connection
}

var connectionIDs = id.NewSequence(0)

// NewConnectionRecord creates a bind record in INIT state.
func NewConnectionRecord(callerID int64, cb Connection) *ConnectionRecord {
	return &ConnectionRecord{ID: connectionIDs.Next(), CallerID: callerID, Callback: cb}
}

// Record is one instantiated ability.
type Record struct {
	env    Env
	logger *zap.Logger

	recordID    int64
	token       *Token
	deal        *LifecycleDeal
	want        *types.Want
	abilityInfo types.AbilityInfo
	appInfo     types.ApplicationInfo
	requestCode int
	uid         int32
	newVersion  bool

	currentState State
	appState     AppState
	stateInfo    LifeCycleStateInfo
	eventID      int64
	startTime    time.Time
	startID      int

	preID, nextID, backID int64
	missionID             int

	callers     []CallerRecord
	connections []*ConnectionRecord
	connRemote  ipc.RemoteObject
	result      *AbilityResult
	savedState  map[string]any

	isReady           bool
	isWindowAttached  bool
	isLauncher        bool
	isLauncherRoot    bool
	isKernelSystem    bool
	isTerminating     bool
	isForceTerminate  bool
	isUninstall       bool
	isRestarting      bool
	isCreateByConnect bool
	isStartedByCall   bool
	isStartToBack     bool
	isKeepAlive       bool

	restartCount int
	restartMax   int

	callContainer *CallContainer

	schedMu        sync.Mutex
	scheduler      Scheduler
	schedRecipient *ipc.DeathRecipient
}

// NewRecord builds and initializes a record for req and registers it in
// the arena. Records are never created outside this factory.
func NewRecord(env Env, req *Request) *Record {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	want := req.Want.Clone()
	r := &Record{
		env:          env,
		recordID:     recordIDs.Next(),
		deal:         NewLifecycleDeal(),
		want:         want,
		abilityInfo:  req.AbilityInfo,
		appInfo:      req.AppInfo,
		requestCode:  req.RequestCode,
		uid:          req.UID,
		newVersion:   req.IsNewVersion() && req.AbilityInfo.Type == types.AbilityTypePage,
		currentState: Initial,
		appState:     AppBegin,
		preID:        -1,
		nextID:       -1,
		backID:       -1,
		missionID:    -1,
		restartMax:   env.RestartMax,
		restartCount: env.RestartMax,
	}
	r.stateInfo = LifeCycleStateInfo{MissionID: -1, StackID: -1, Caller: CallerInfo{RequestCode: -1}}
	r.token = newToken(r.recordID)
	r.logger = env.Logger.With(
		zap.Int64("record_id", r.recordID),
		zap.String("ability", r.abilityInfo.BundleName+"/"+r.abilityInfo.Name))
	r.isLauncher = req.AppInfo.IsLauncherApp
	r.isKeepAlive = req.AppInfo.KeepAlive
	r.callContainer = NewCallContainer(env.Handler, r.logger)
	if env.Arena != nil {
		env.Arena.Add(r)
	}
	return r
}

func (r *Record) RecordID() int64                        { return r.recordID }
func (r *Record) Token() *Token                          { return r.token }
func (r *Record) AbilityInfo() types.AbilityInfo         { return r.abilityInfo }
func (r *Record) ApplicationInfo() types.ApplicationInfo { return r.appInfo }
func (r *Record) Want() *types.Want                      { return r.want }
func (r *Record) SetWant(w *types.Want)                  { r.want = w.Clone() }
func (r *Record) RequestCode() int                       { return r.requestCode }
func (r *Record) UID() int32                             { return r.uid }
func (r *Record) SetUID(uid int32)                       { r.uid = uid }
func (r *Record) IsNewVersion() bool                     { return r.newVersion }
func (r *Record) EventID() int64                         { return r.eventID }
func (r *Record) StartTime() time.Time                   { return r.startTime }
func (r *Record) AppState() AppState                     { return r.appState }
func (r *Record) SetAppState(s AppState)                 { r.appState = s }
func (r *Record) IsReady() bool                          { return r.isReady }
func (r *Record) IsWindowAttached() bool                 { return r.isWindowAttached }
func (r *Record) IsLauncherAbility() bool                { return r.isLauncher }
func (r *Record) IsTerminating() bool                    { return r.isTerminating }
func (r *Record) SetTerminatingState()                   { r.isTerminating = true }
func (r *Record) IsForceTerminate() bool                 { return r.isForceTerminate }
func (r *Record) SetForceTerminate(flag bool)            { r.isForceTerminate = flag }
func (r *Record) IsUninstallAbility() bool               { return r.isUninstall }
func (r *Record) SetIsUninstallAbility()                 { r.isUninstall = true }
func (r *Record) IsKernelSystemAbility() bool            { return r.isKernelSystem }
func (r *Record) SetKernelSystemAbility()                { r.isKernelSystem = true }
func (r *Record) IsLauncherRoot() bool                   { return r.isLauncherRoot }
func (r *Record) SetLauncherRoot()                       { r.isLauncherRoot = true }
func (r *Record) IsCreateByConnect() bool                { return r.isCreateByConnect }
func (r *Record) SetCreateByConnectMode()                { r.isCreateByConnect = true }
func (r *Record) IsStartedByCall() bool                  { return r.isStartedByCall }
func (r *Record) SetStartedByCall(flag bool)             { r.isStartedByCall = flag }
func (r *Record) IsStartToBackground() bool              { return r.isStartToBack }
func (r *Record) SetStartToBackground(flag bool)         { r.isStartToBack = flag }
func (r *Record) IsKeepAlive() bool                      { return r.isKeepAlive }
func (r *Record) IsRestarting() bool                     { return r.isRestarting }
func (r *Record) RestartCount() int                      { return r.restartCount }
func (r *Record) IsNewWant() bool                        { return r.stateInfo.IsNewWant }
func (r *Record) SetIsNewWant(v bool)                    { r.stateInfo.IsNewWant = v }
func (r *Record) StartID() int                           { return r.startID }
func (r *Record) AddStartID()                            { r.startID++ }
func (r *Record) ConnRemoteObject() ipc.RemoteObject     { return r.connRemote }
func (r *Record) SetConnRemoteObject(o ipc.RemoteObject) { r.connRemote = o }
func (r *Record) Result() *AbilityResult                 { return r.result }
func (r *Record) SetResult(res *AbilityResult)           { r.result = res }
func (r *Record) CallContainer() *CallContainer          { return r.callContainer }

// SetStartTime records the first start; later calls are ignored.
func (r *Record) SetStartTime() {
	if r.startTime.IsZero() {
		r.startTime = time.Now()
	}
}

// Navigation links are record ids resolved through the arena.

func (r *Record) SetPreAbilityRecord(o *Record)  { r.preID = idOf(o) }
func (r *Record) SetNextAbilityRecord(o *Record) { r.nextID = idOf(o) }
func (r *Record) SetBackAbilityRecord(o *Record) { r.backID = idOf(o) }
func (r *Record) PreAbilityRecord() *Record      { return r.lookup(r.preID) }
func (r *Record) NextAbilityRecord() *Record     { return r.lookup(r.nextID) }
func (r *Record) BackAbilityRecord() *Record     { return r.lookup(r.backID) }

func idOf(o *Record) int64 {
	if o == nil {
		return -1
	}
	return o.recordID
}

func (r *Record) lookup(recordID int64) *Record {
	if recordID < 0 || r.env.Arena == nil {
		return nil
	}
	return r.env.Arena.Get(recordID)
}

// SetMissionRecord associates the record with a mission.
func (r *Record) SetMissionRecord(m *MissionRecord) {
	if m == nil {
		r.missionID = -1
		return
	}
	r.missionID = m.ID()
	r.stateInfo.MissionID = m.ID()
}

// MissionRecord resolves the owning mission.
func (r *Record) MissionRecord() *MissionRecord {
	if r.missionID < 0 || r.env.Arena == nil {
		return nil
	}
	return r.env.Arena.Mission(r.missionID)
}

// MissionRecordID is the owning mission id or -1.
func (r *Record) MissionRecordID() int {
	if r.MissionRecord() == nil {
		return -1
	}
	return r.missionID
}

func (r *Record) SetMissionStackID(stackID int) { r.stateInfo.StackID = stackID }
func (r *Record) MissionStackID() int           { return r.stateInfo.StackID }

// AbilityState returns the current state.
func (r *Record) AbilityState() State { return r.currentState }

// IsAbilityState reports whether the record is in s.
func (r *Record) IsAbilityState(s State) bool { return r.currentState == s }

// IsActiveState reports whether the record is active or on its way there.
func (r *Record) IsActiveState() bool {
	return r.currentState == Active || r.currentState == Activating || r.currentState == Initial
}

// SetAbilityState settles the record into s. Reaching a foreground state
// refreshes the mission timestamp and restores the restart budget.
func (r *Record) SetAbilityState(s State) {
	r.currentState = s
	if s.IsForeground() {
		if m := r.MissionRecord(); m != nil {
			m.UpdateActiveTimestamp()
		}
		r.SetRestarting(false)
	}
}

// ClearFlag resets transient flags before a record is reused.
func (r *Record) ClearFlag() {
	r.isRestarting = false
	r.isForceTerminate = false
	r.isUninstall = false
	r.isTerminating = false
	r.preID, r.nextID, r.backID = -1, -1, -1
	r.startTime = time.Time{}
	r.appState = AppEnd
}

// AddCallerRecord records that the ability behind callerToken started this
// record. An existing entry for the same caller is replaced and moved to
// the end.
func (r *Record) AddCallerRecord(callerToken *Token, requestCode int) {
	caller := r.lookupToken(callerToken)
	if caller == nil {
		return
	}
	for i, c := range r.callers {
		if c.CallerID == caller.recordID {
			r.callers = append(r.callers[:i], r.callers[i+1:]...)
			break
		}
	}
	r.callers = append(r.callers, CallerRecord{RequestCode: requestCode, CallerID: caller.recordID})

	r.stateInfo.Caller = CallerInfo{
		RequestCode: requestCode,
		DeviceID:    caller.want.Element.DeviceID,
		BundleName:  caller.abilityInfo.BundleName,
		AbilityName: caller.abilityInfo.Name,
	}
	r.logger.Debug("caller added",
		zap.String("caller", caller.abilityInfo.BundleName+"/"+caller.abilityInfo.Name),
		zap.Int("request_code", requestCode))
}

// CallerRecords returns a snapshot of the caller list.
func (r *Record) CallerRecords() []CallerRecord {
	return append([]CallerRecord(nil), r.callers...)
}

func (r *Record) lookupToken(t *Token) *Record {
	if t == nil || r.env.Arena == nil {
		return nil
	}
	return r.env.Arena.GetByToken(t)
}

// AddConnectRecordToList adds a bind unless already present.
func (r *Record) AddConnectRecordToList(c *ConnectionRecord) {
	if c == nil {
		return
	}
	for _, existing := range r.connections {
		if existing == c {
			return
		}
	}
	r.connections = append(r.connections, c)
}

// RemoveConnectRecordFromList drops a bind.
func (r *Record) RemoveConnectRecordFromList(c *ConnectionRecord) {
	for i, existing := range r.connections {
		if existing == c {
			r.connections = append(r.connections[:i], r.connections[i+1:]...)
			return
		}
	}
}

// ConnectRecordList returns a snapshot of the binds.
func (r *Record) ConnectRecordList() []*ConnectionRecord {
	return append([]*ConnectionRecord(nil), r.connections...)
}

// IsConnectListEmpty reports whether no binds remain.
func (r *Record) IsConnectListEmpty() bool { return len(r.connections) == 0 }

// ConnectingRecord returns the first bind still connecting.
func (r *Record) ConnectingRecord() *ConnectionRecord {
	for _, c := range r.connections {
		if c.State == ConnConnecting {
			return c
		}
	}
	return nil
}

// ConnectingRecordList returns every bind still connecting.
func (r *Record) ConnectingRecordList() []*ConnectionRecord {
	var out []*ConnectionRecord
	for _, c := range r.connections {
		if c.State == ConnConnecting {
			out = append(out, c)
		}
	}
	return out
}

// DisconnectingRecord returns the first bind being torn down.
func (r *Record) DisconnectingRecord() *ConnectionRecord {
	for _, c := range r.connections {
		if c.State == ConnDisconnecting {
			return c
		}
	}
	return nil
}
