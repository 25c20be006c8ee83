package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trafficgrid/controller/models"
)

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }
func (s stubClock) Every(ctx context.Context, period time.Duration, task func(context.Context)) {}
func (s stubClock) After(ctx context.Context, delay time.Duration, task func(context.Context))  {}
func (s stubClock) Sleep(ctx context.Context, d time.Duration) error                             { return nil }

// Scenario 8: override audit round-trip — written records are recoverable as
// JSON lines and queryable via Recent.
func TestOverrideAuditRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()
	s := New(&buf, nil, stubClock{now}, nil)

	audit := models.OverrideAudit{OverrideID: "OVR-1", Type: models.OverrideJunctionSignal, OperatorID: "op-1", TargetID: "J-1", Reason: "manual takeover"}
	s.WriteOverrideAudit(audit)
	require.NoError(t, s.Flush())

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 1)

	var rec record
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	require.Equal(t, "override_audit", rec.Kind)

	recent := s.Recent("override_audit", 10)
	require.Len(t, recent, 1)
}

func TestRecentFiltersByKindAndLimits(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, nil, stubClock{time.Now()}, nil)
	s.MaxRecent = 2
	s.WriteAgentLog(models.AgentLog{Mode: "NORMAL"})
	s.WriteAgentLog(models.AgentLog{Mode: "EMERGENCY"})
	s.WriteAgentLog(models.AgentLog{Mode: "INCIDENT"})
	require.Len(t, s.Recent("agent_log", 0), 2)
}
