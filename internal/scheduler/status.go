package scheduler

import (
	"sort"
	"time"
)

const (
	StateRunning   = "running"
	StateStandby   = "standby"
	StateSuspended = "suspended"
)

// Status is a point-in-time view of the poller for operators.
type Status struct {
	State               string     `json:"state"`
	SuspendReason       string     `json:"suspend_reason,omitempty"`
	Cycles              int64      `json:"cycles"`
	LastCycleAt         time.Time  `json:"last_cycle_at"`
	LastSuccessAt       time.Time  `json:"last_success_at"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	FailureAlarm        string     `json:"failure_alarm"`
	AbsentKeys          []string   `json:"absent_keys,omitempty"`
	LastCycle           CycleStats `json:"last_cycle"`
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	st := p.status
	for k := range p.absent {
		st.AbsentKeys = append(st.AbsentKeys, k.String())
	}
	p.mu.Unlock()
	sort.Strings(st.AbsentKeys)
	st.ConsecutiveFailures = p.failures.Failures()
	st.FailureAlarm = p.failures.State().String()
	return st
}
