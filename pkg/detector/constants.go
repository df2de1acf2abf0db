package detector

import (
	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/watchdog"
)

// AttackCodes are the conditions known RPL attacks produce: rank
// spoofing (sinkhole), version number and DTSN inflation, DAO insertion.
var AttackCodes = map[watchdog.Code]string{
	watchdog.RankRise:          models.SeverityHigh,
	watchdog.DODAGVersionRaise: models.SeverityCritical,
	watchdog.DTSNRaise:         models.SeverityHigh,
	watchdog.RPLInstanceAdd:    models.SeverityMedium,
	watchdog.DAORouteAdd:       models.SeverityMedium,
	watchdog.HBHOption:         models.SeverityMedium,
	watchdog.Invert:            models.SeverityHigh,
	watchdog.NodeErrorCountUp:  models.SeverityMedium,
}

// TopologyCodes are parent set and DODAG membership changes.
var TopologyCodes = map[watchdog.Code]string{
	watchdog.TrickleReset:            models.SeverityLow,
	watchdog.ParentSetPrune:          models.SeverityMedium,
	watchdog.ParentAdd:               models.SeverityLow,
	watchdog.ParentDel:               models.SeverityLow,
	watchdog.PreferredParentExchange: models.SeverityMedium,
	watchdog.RankLower:               models.SeverityLow,
	watchdog.RPLMyInstance:           models.SeverityLow,
	watchdog.DAOParentAdd:            models.SeverityMedium,
	watchdog.DAOParentDel:            models.SeverityLow,
	watchdog.DAOParentsDrop:          models.SeverityHigh,
	watchdog.DISIsMyDODAG:            models.SeverityLow,
	watchdog.NodeErrorCountCreate:    models.SeverityLow,
}

// TimerCodes are raised by trickle and lifetime timer events.
var TimerCodes = map[watchdog.Code]bool{
	watchdog.TrickleUpdateLifetimes: true,
	watchdog.TrickleCallback:        true,
}

// IsAttack checks if a code is produced by a known attack pattern.
func IsAttack(c watchdog.Code) bool {
	_, ok := AttackCodes[c]
	return ok
}

// IsTimer checks if a code comes from a timer event.
func IsTimer(c watchdog.Code) bool {
	return TimerCodes[c]
}

// Classify returns severity and category of a reconciled code. Packet
// markers and send intents are low severity traffic.
func Classify(c watchdog.Code) (severity, category string) {
	if s, ok := AttackCodes[c]; ok {
		return s, models.CategoryAttack
	}
	if s, ok := TopologyCodes[c]; ok {
		return s, models.CategoryTopology
	}
	if IsTimer(c) {
		return models.SeverityLow, models.CategoryTimer
	}
	return models.SeverityLow, models.CategoryTraffic
}
