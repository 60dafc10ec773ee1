package ability

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// SendResult delivers the pending result once and clears it.
func (r *Record) SendResult() {
	if r.result == nil || r.Scheduler() == nil {
		return
	}
	res := r.result
	r.result = nil

	r.logDeal("send_result", r.deal.SendResult(res.RequestCode, res.ResultCode, res.Want))
	r.grantURIPermission(res.Want)
}

func (r *Record) grantURIPermission(want *types.Want) {
	if want == nil || r.env.URIs == nil {
		return
	}
	flags := want.Flags & (types.FlagAuthReadURIPermission | types.FlagAuthWriteURIPermission)
	if flags == 0 {
		return
	}
	r.env.URIs.GrantURIPermission(want, flags, r.abilityInfo.BundleName)
}

// SaveResultToCallers sets the same result on every live caller,
// replacing whatever was pending there.
func (r *Record) SaveResultToCallers(resultCode int, want *types.Want) {
	if want == nil {
		want = &types.Want{}
	}
	for _, c := range r.callers {
		caller := r.lookup(c.CallerID)
		if caller == nil {
			continue
		}
		caller.SetResult(&AbilityResult{RequestCode: c.RequestCode, ResultCode: resultCode, Want: want.Clone()})
	}
}

// SendResultToCallers flushes pending results on every live caller.
func (r *Record) SendResultToCallers() {
	for _, c := range r.callers {
		caller := r.lookup(c.CallerID)
		if caller == nil || caller.Result() == nil {
			continue
		}
		r.logger.Debug("sending result to caller", zap.Int64("caller_id", caller.recordID))
		caller.SendResult()
	}
}
