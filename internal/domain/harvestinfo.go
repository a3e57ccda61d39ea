package domain

import (
	"fmt"
	"time"
)

// StopReason records why a historical harvest of a configuration ended.
type StopReason int

// Values are stored as integers; keep the order.
const (
	StopDownloadComplete StopReason = iota
	StopObjectLimit
	StopSizeLimit
	StopConfigSizeLimit
	StopDownloadUnfinished
	StopConfigObjectLimit
	StopTimeLimit
)

var stopReasonNames = []string{
	"DOWNLOAD_COMPLETE",
	"OBJECT_LIMIT",
	"SIZE_LIMIT",
	"CONFIG_SIZE_LIMIT",
	"DOWNLOAD_UNFINISHED",
	"CONFIG_OBJECT_LIMIT",
	"TIME_LIMIT",
}

func (r StopReason) String() string {
	if r >= 0 && int(r) < len(stopReasonNames) {
		return stopReasonNames[r]
	}
	return fmt.Sprintf("StopReason(%d)", int(r))
}

// ParseStopReason maps a stop reason name to its value.
func ParseStopReason(s string) (StopReason, error) {
	for i, name := range stopReasonNames {
		if name == s {
			return StopReason(i), nil
		}
	}
	return 0, invalidf("unknown stop reason %q", s)
}

// Complete reports whether the harvest finished without hitting a limit.
func (r StopReason) Complete() bool {
	return r == StopDownloadComplete
}

// HarvestInfo is the immutable outcome of one past harvest of one domain
// configuration.
type HarvestInfo struct {
	HarvestID  int64
	DomainName string
	ConfigName string
	Date       time.Time

	SizeDataRetrieved    int64
	CountObjectRetrieved int64
	StopReason           StopReason
}
