package ability

import (
	"fmt"
	"strings"
)

// Dump appends the record as key [value] lines.
func (r *Record) Dump(info *[]string) {
	*info = append(*info,
		fmt.Sprintf("      AbilityRecord ID #%d", r.recordID),
		fmt.Sprintf("        app name [%s]", r.appInfo.Name),
		fmt.Sprintf("        main name [%s]", r.abilityInfo.Name),
		fmt.Sprintf("        bundle name [%s]", r.abilityInfo.BundleName),
		fmt.Sprintf("        ability type [%s]", r.abilityInfo.Type))

	pre, next := "", ""
	if p := r.PreAbilityRecord(); p != nil {
		pre = p.abilityInfo.Name
	}
	if n := r.NextAbilityRecord(); n != nil {
		next = n.abilityInfo.Name
	}
	*info = append(*info,
		fmt.Sprintf("        previous ability app name [%s]", pre),
		fmt.Sprintf("        next ability app name [%s]", next),
		fmt.Sprintf("        state #%s  start time [%d]", r.currentState, r.startTime.UnixMilli()),
		fmt.Sprintf("        app state #%s", r.appState),
		fmt.Sprintf("        ready #%t  window attached #%t  launcher #%t", r.isReady, r.isWindowAttached, r.isLauncher))

	if r.isLauncherRoot {
		*info = append(*info, fmt.Sprintf("        can restart num #%d", r.restartCount))
	}
	if len(r.callers) > 0 {
		names := make([]string, 0, len(r.callers))
		for _, c := range r.callers {
			if caller := r.lookup(c.CallerID); caller != nil {
				names = append(names, caller.abilityInfo.Name)
			}
		}
		*info = append(*info, fmt.Sprintf("        callers [%s]", strings.Join(names, ", ")))
	}
	for _, c := range r.connections {
		*info = append(*info, fmt.Sprintf("        ConnectionRecord ID #%d  state #%s", c.ID, c.State))
	}
	r.callContainer.Dump(info)
}
