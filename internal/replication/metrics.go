package replication

import "time"

// Metrics captures replication-layer metric sinks used by Manager.
type Metrics interface {
	SetReplicationRole(nodeID, role string)
	IncHeartbeatSent(nodeID, peer, result string)
	IncHeartbeatReceived(nodeID string)
	SetHeartbeatAge(nodeID string, d time.Duration)
	IncReplicationSend(nodeID, peer, result string)
	ObservePeerSendDuration(nodeID, command string, d time.Duration)
	IncOperationApplied(nodeID, kind, result string)
	IncPromotion(nodeID string)
	SetBackupCount(nodeID string, n int)
}

type noopMetrics struct{}

func (noopMetrics) SetReplicationRole(string, string)                     {}
func (noopMetrics) IncHeartbeatSent(string, string, string)               {}
func (noopMetrics) IncHeartbeatReceived(string)                           {}
func (noopMetrics) SetHeartbeatAge(string, time.Duration)                 {}
func (noopMetrics) IncReplicationSend(string, string, string)             {}
func (noopMetrics) ObservePeerSendDuration(string, string, time.Duration) {}
func (noopMetrics) IncOperationApplied(string, string, string)            {}
func (noopMetrics) IncPromotion(string)                                   {}
func (noopMetrics) SetBackupCount(string, int)                            {}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
