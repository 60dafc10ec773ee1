package ability

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// ResolveResult is the outcome of resolving a call request.
type ResolveResult int

const (
	OKNoRemoteObj ResolveResult = iota
	OKHasRemoteObj
	NGInnerError
)

func (r ResolveResult) String() string {
	switch r {
	case OKNoRemoteObj:
		return "OK_NO_REMOTE_OBJ"
	case OKHasRemoteObj:
		return "OK_HAS_REMOTE_OBJ"
	default:
		return "NG_INNER_ERROR"
	}
}

// CallState is the progress of a call binding.
type CallState int

const (
	CallInit CallState = iota
	CallRequesting
	CallRequested
)

func (s CallState) String() string {
	switch s {
	case CallRequesting:
		return "REQUESTING"
	case CallRequested:
		return "REQUESTED"
	default:
		return "INIT"
	}
}

var callRecordIDs = id.NewSequence(0)

// CallRecord is one caller-to-ability call binding.
type CallRecord struct {
	recordID    int64
	callerUID   int32
	startTime   time.Time
	serviceID   int64
	element     types.ElementName
	connect     Connection
	callerToken *Token
	handler     Handler

	mu            sync.Mutex
	state         CallState
	callStub      ipc.RemoteObject
	stubRecipient *ipc.DeathRecipient
}

// NewCallRecord binds connect to service.
func NewCallRecord(callerUID int32, service *Record, connect Connection, callerToken *Token) *CallRecord {
	c := &CallRecord{
		recordID:    callRecordIDs.Next(),
		callerUID:   callerUID,
		startTime:   time.Now(),
		serviceID:   -1,
		connect:     connect,
		callerToken: callerToken,
	}
	if service != nil {
		c.serviceID = service.recordID
		c.element = service.want.Element
		c.handler = service.env.Handler
	}
	return c
}

func (c *CallRecord) RecordID() int64      { return c.recordID }
func (c *CallRecord) CallerUID() int32     { return c.callerUID }
func (c *CallRecord) ServiceID() int64     { return c.serviceID }
func (c *CallRecord) Connect() Connection  { return c.connect }
func (c *CallRecord) CallerToken() *Token  { return c.callerToken }
func (c *CallRecord) StartTime() time.Time { return c.startTime }

// CallState returns the binding state.
func (c *CallRecord) CallState() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsCallState reports whether the binding is in s.
func (c *CallRecord) IsCallState(s CallState) bool {
	return c.CallState() == s
}

// SetCallState moves the binding to s.
func (c *CallRecord) SetCallState(s CallState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// CallStub returns the remote object the callee handed back.
func (c *CallRecord) CallStub() ipc.RemoteObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callStub
}

// SetCallStub installs the callee's stub and watches it for death. At most
// one stub is live per record.
func (c *CallRecord) SetCallStub(stub ipc.RemoteObject) {
	if stub == nil {
		return
	}
	c.mu.Lock()
	if c.callStub != nil && c.stubRecipient != nil {
		c.callStub.RemoveDeathRecipient(c.stubRecipient)
	}
	if c.stubRecipient == nil {
		c.stubRecipient = ipc.NewDeathRecipient(c.onCallStubDied)
	}
	c.callStub = stub
	recipient := c.stubRecipient
	c.mu.Unlock()

	if !stub.AddDeathRecipient(recipient) {
		c.onCallStubDied(stub)
	}
}

func (c *CallRecord) onCallStubDied(ipc.RemoteObject) {
	if c.handler == nil {
		return
	}
	c.handler.PostTask(func() { c.handler.OnCallConnectDied(c) })
}

// SchedulerConnectDone reports the stub to the caller and marks the
// binding REQUESTED. It fails when no stub is known yet.
func (c *CallRecord) SchedulerConnectDone() bool {
	stub := c.CallStub()
	if stub == nil || c.connect == nil {
		return false
	}
	c.connect.OnAbilityConnectDone(c.element, stub, 0)
	c.SetCallState(CallRequested)
	return true
}

// SchedulerDisconnectDone tells the caller the binding is gone.
func (c *CallRecord) SchedulerDisconnectDone() bool {
	if c.connect == nil {
		return false
	}
	c.connect.OnAbilityDisconnectDone(c.element, 0)
	return true
}

// Dump appends a text description.
func (c *CallRecord) Dump(info *[]string) {
	*info = append(*info,
		fmt.Sprintf("        CallRecord ID #%d   caller uid [%d]   state #%s   start time [%d]",
			c.recordID, c.callerUID, c.CallState(), c.startTime.UnixMilli()))
}

// CallContainer tracks the call bindings of one ability, keyed by the
// identity of each caller's connection.
type CallContainer struct {
	handler Handler
	logger  *zap.Logger

	mu         sync.RWMutex
	records    map[id.ObjectID]*CallRecord
	recipients map[id.ObjectID]*ipc.DeathRecipient
}

// NewCallContainer creates an empty container.
func NewCallContainer(handler Handler, logger *zap.Logger) *CallContainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallContainer{
		handler:    handler,
		logger:     logger,
		records:    make(map[id.ObjectID]*CallRecord),
		recipients: make(map[id.ObjectID]*ipc.DeathRecipient),
	}
}

func connectKey(connect Connection) (id.ObjectID, bool) {
	if connect == nil || connect.Object() == nil {
		return "", false
	}
	return connect.Object().ID(), true
}

// AddCallRecord stores rec for connect and watches the connection.
func (cc *CallContainer) AddCallRecord(connect Connection, rec *CallRecord) {
	key, ok := connectKey(connect)
	if !ok || rec == nil {
		return
	}
	cc.mu.Lock()
	cc.records[key] = rec
	cc.mu.Unlock()

	cc.addConnectDeathRecipient(connect.Object())
}

// GetCallRecord returns the binding for connect.
func (cc *CallContainer) GetCallRecord(connect Connection) *CallRecord {
	key, ok := connectKey(connect)
	if !ok {
		return nil
	}
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.records[key]
}

// RemoveCallRecord drops the binding for connect.
func (cc *CallContainer) RemoveCallRecord(connect Connection) bool {
	key, ok := connectKey(connect)
	if !ok {
		return false
	}
	cc.mu.Lock()
	_, found := cc.records[key]
	delete(cc.records, key)
	cc.mu.Unlock()

	cc.removeConnectDeathRecipient(connect.Object())
	return found
}

// CallRequestDone hands the callee's stub to every binding and reports
// the connection to each caller.
func (cc *CallContainer) CallRequestDone(callStub ipc.RemoteObject) bool {
	if callStub == nil {
		return false
	}
	for _, rec := range cc.snapshot() {
		rec.SetCallStub(callStub)
		rec.SchedulerConnectDone()
	}
	return true
}

// IsNeedToCallRequest reports whether any binding still awaits a stub.
func (cc *CallContainer) IsNeedToCallRequest() bool {
	for _, rec := range cc.snapshot() {
		if !rec.IsCallState(CallRequested) {
			return true
		}
	}
	return false
}

// Len is the number of bindings.
func (cc *CallContainer) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.records)
}

func (cc *CallContainer) snapshot() []*CallRecord {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	out := make([]*CallRecord, 0, len(cc.records))
	for _, rec := range cc.records {
		out = append(out, rec)
	}
	return out
}

func (cc *CallContainer) addConnectDeathRecipient(obj ipc.RemoteObject) {
	key := obj.ID()
	cc.mu.Lock()
	if _, exists := cc.recipients[key]; exists {
		cc.mu.Unlock()
		return
	}
	recipient := ipc.NewDeathRecipient(cc.OnConnectionDied)
	cc.recipients[key] = recipient
	cc.mu.Unlock()

	if !obj.AddDeathRecipient(recipient) {
		cc.OnConnectionDied(obj)
	}
}

func (cc *CallContainer) removeConnectDeathRecipient(obj ipc.RemoteObject) {
	key := obj.ID()
	cc.mu.Lock()
	recipient, ok := cc.recipients[key]
	delete(cc.recipients, key)
	cc.mu.Unlock()
	if ok {
		obj.RemoveDeathRecipient(recipient)
	}
}

// OnConnectionDied drops the binding of a dead caller connection and
// posts cleanup to the owning manager.
func (cc *CallContainer) OnConnectionDied(remote ipc.RemoteObject) {
	if remote == nil {
		return
	}
	key := remote.ID()
	cc.mu.Lock()
	rec, ok := cc.records[key]
	delete(cc.records, key)
	delete(cc.recipients, key)
	cc.mu.Unlock()
	if !ok {
		return
	}
	cc.logger.Info("call connection died", zap.Int64("call_record", rec.recordID))
	if cc.handler != nil {
		cc.handler.PostTask(func() { cc.handler.OnCallConnectDied(rec) })
	}
}

// Dump appends every binding.
func (cc *CallContainer) Dump(info *[]string) {
	for _, rec := range cc.snapshot() {
		rec.Dump(info)
	}
}

// Resolve decides whether a call request can be answered right away.
// Only CALL_REQUEST_TYPE requests may create bindings. A binding already
// REQUESTED with a live stub is re-confirmed to its caller; anything else
// moves to REQUESTING and waits for the ability to answer.
func (r *Record) Resolve(req *Request) ResolveResult {
	if req == nil || !req.IsCallType(CallRequestType) || req.Connect == nil || req.Connect.Object() == nil {
		r.logger.Error("call request rejected: not a call request")
		return NGInnerError
	}
	rec := r.callContainer.GetCallRecord(req.Connect)
	if rec != nil {
		if rec.IsCallState(CallRequested) && rec.CallStub() != nil && !rec.CallStub().IsDead() {
			rec.SchedulerConnectDone()
			return OKHasRemoteObj
		}
	} else {
		rec = NewCallRecord(req.CallerUID, r, req.Connect, req.CallerToken)
		r.callContainer.AddCallRecord(req.Connect, rec)
	}
	rec.SetCallState(CallRequesting)
	return OKNoRemoteObj
}

// Release drops the binding for connect and tells the caller.
func (r *Record) Release(connect Connection) bool {
	rec := r.callContainer.GetCallRecord(connect)
	if rec == nil {
		return false
	}
	rec.SchedulerDisconnectDone()
	return r.callContainer.RemoveCallRecord(connect)
}

// IsNeedToCallRequest reports whether any binding awaits a stub.
func (r *Record) IsNeedToCallRequest() bool {
	return r.callContainer.IsNeedToCallRequest()
}

// CallRequest asks the ability for its call stub.
func (r *Record) CallRequest() error {
	if err := r.deal.CallRequest(); err != nil {
		r.logger.Error("call request failed", zap.Error(err))
		return err
	}
	return nil
}

// CallRequestDone delivers the stub the ability answered with.
func (r *Record) CallRequestDone(callStub ipc.RemoteObject) bool {
	return r.callContainer.CallRequestDone(callStub)
}
