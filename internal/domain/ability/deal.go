package ability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// ErrNoScheduler is returned when a record has no attached ability thread.
var ErrNoScheduler = errors.New("ability scheduler not attached")

const defaultCallTimeout = 5 * time.Second

// LifecycleDeal forwards lifecycle calls to the attached scheduler.
type LifecycleDeal struct {
	mu          sync.RWMutex
	scheduler   Scheduler
	callTimeout time.Duration
}

// NewLifecycleDeal creates a deal with no scheduler.
func NewLifecycleDeal() *LifecycleDeal {
	return &LifecycleDeal{callTimeout: defaultCallTimeout}
}

// SetScheduler swaps the target; nil detaches.
func (d *LifecycleDeal) SetScheduler(s Scheduler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduler = s
}

// Scheduler returns the current target.
func (d *LifecycleDeal) Scheduler() Scheduler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scheduler
}

func (d *LifecycleDeal) call(fn func(ctx context.Context, s Scheduler) error) error {
	s := d.Scheduler()
	if s == nil {
		return ErrNoScheduler
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
	defer cancel()
	return fn(ctx, s)
}

func (d *LifecycleDeal) transaction(want *types.Want, info LifeCycleStateInfo, state State) error {
	info.State = state
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.ScheduleAbilityTransaction(ctx, want, info)
	})
}

// Activate asks the ability to become ACTIVE.
func (d *LifecycleDeal) Activate(want *types.Want, info LifeCycleStateInfo) error {
	return d.transaction(want, info, Active)
}

// Inactivate asks the ability to become INACTIVE.
func (d *LifecycleDeal) Inactivate(want *types.Want, info LifeCycleStateInfo) error {
	return d.transaction(want, info, Inactive)
}

// MoveToBackground asks the ability to become BACKGROUND.
func (d *LifecycleDeal) MoveToBackground(want *types.Want, info LifeCycleStateInfo) error {
	return d.transaction(want, info, Background)
}

// Terminate asks the ability to return to INITIAL and exit.
func (d *LifecycleDeal) Terminate(want *types.Want, info LifeCycleStateInfo) error {
	return d.transaction(want, info, Initial)
}

// ForegroundNew asks a new-version page to come to the foreground.
func (d *LifecycleDeal) ForegroundNew(want *types.Want, info LifeCycleStateInfo) error {
	return d.transaction(want, info, ForegroundNew)
}

// BackgroundNew asks a new-version page to go to the background.
func (d *LifecycleDeal) BackgroundNew(want *types.Want, info LifeCycleStateInfo) error {
	return d.transaction(want, info, BackgroundNew)
}

func (d *LifecycleDeal) ConnectAbility(want *types.Want) error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.ScheduleConnectAbility(ctx, want)
	})
}

func (d *LifecycleDeal) DisconnectAbility(want *types.Want) error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.ScheduleDisconnectAbility(ctx, want)
	})
}

func (d *LifecycleDeal) CommandAbility(want *types.Want, restart bool, startID int) error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.ScheduleCommandAbility(ctx, want, restart, startID)
	})
}

func (d *LifecycleDeal) SaveAbilityState() error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.ScheduleSaveAbilityState(ctx)
	})
}

func (d *LifecycleDeal) RestoreAbilityState(state map[string]any) error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.ScheduleRestoreAbilityState(ctx, state)
	})
}

func (d *LifecycleDeal) SendResult(requestCode, resultCode int, want *types.Want) error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.SendResult(ctx, requestCode, resultCode, want)
	})
}

func (d *LifecycleDeal) ContinueAbility(deviceID string) error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.ContinueAbility(ctx, deviceID)
	})
}

func (d *LifecycleDeal) NotifyContinuationResult(result int32) error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.NotifyContinuationResult(ctx, result)
	})
}

func (d *LifecycleDeal) NotifyTopActiveAbilityChanged(flag bool) error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.NotifyTopActiveAbilityChanged(ctx, flag)
	})
}

func (d *LifecycleDeal) CallRequest() error {
	return d.call(func(ctx context.Context, s Scheduler) error {
		return s.CallRequest(ctx)
	})
}
