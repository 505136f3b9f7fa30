package admingrpc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// NodeInfo is the administrative view of one node.
type NodeInfo struct {
	NodeID             string
	ReplicationEnabled bool
	Role               string
	PrimaryAddr        string
	Backups            []string
	LastHeartbeat      time.Time
	HeartbeatAge       time.Duration
	HeartbeatInterval  time.Duration
	FailoverTimeout    time.Duration
	Keys               int
}

const (
	fieldNodeID             = "node_id"
	fieldReplicationEnabled = "replication_enabled"
	fieldRole               = "role"
	fieldPrimaryAddr        = "primary_addr"
	fieldBackups            = "backups"
	fieldLastHeartbeat      = "last_heartbeat"
	fieldHeartbeatAgeMS     = "heartbeat_age_ms"
	fieldHeartbeatInterval  = "heartbeat_interval_ms"
	fieldFailoverTimeout    = "failover_timeout_ms"
	fieldKeys               = "keys"
)

func nodeInfoToPB(info NodeInfo) (*structpb.Struct, error) {
	backups := make([]any, 0, len(info.Backups))
	for _, b := range info.Backups {
		backups = append(backups, b)
	}
	fields := map[string]any{
		fieldNodeID:             info.NodeID,
		fieldReplicationEnabled: info.ReplicationEnabled,
		fieldRole:               info.Role,
		fieldPrimaryAddr:        info.PrimaryAddr,
		fieldBackups:            backups,
		fieldHeartbeatAgeMS:     float64(info.HeartbeatAge.Milliseconds()),
		fieldHeartbeatInterval:  float64(info.HeartbeatInterval.Milliseconds()),
		fieldFailoverTimeout:    float64(info.FailoverTimeout.Milliseconds()),
		fieldKeys:               float64(info.Keys),
	}
	if !info.LastHeartbeat.IsZero() {
		fields[fieldLastHeartbeat] = info.LastHeartbeat.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

func nodeInfoFromPB(pb *structpb.Struct) (NodeInfo, error) {
	f := pb.GetFields()
	info := NodeInfo{
		NodeID:             f[fieldNodeID].GetStringValue(),
		ReplicationEnabled: f[fieldReplicationEnabled].GetBoolValue(),
		Role:               f[fieldRole].GetStringValue(),
		PrimaryAddr:        f[fieldPrimaryAddr].GetStringValue(),
		HeartbeatAge:       time.Duration(f[fieldHeartbeatAgeMS].GetNumberValue()) * time.Millisecond,
		HeartbeatInterval:  time.Duration(f[fieldHeartbeatInterval].GetNumberValue()) * time.Millisecond,
		FailoverTimeout:    time.Duration(f[fieldFailoverTimeout].GetNumberValue()) * time.Millisecond,
		Keys:               int(f[fieldKeys].GetNumberValue()),
	}
	for _, v := range f[fieldBackups].GetListValue().GetValues() {
		info.Backups = append(info.Backups, v.GetStringValue())
	}
	if raw := f[fieldLastHeartbeat].GetStringValue(); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return NodeInfo{}, fmt.Errorf("admingrpc: invalid %s %q: %w", fieldLastHeartbeat, raw, err)
		}
		info.LastHeartbeat = ts
	}
	return info, nil
}
