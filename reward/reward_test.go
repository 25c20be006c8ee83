package reward

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateThroughputDelta(t *testing.T) {
	c := New(DefaultWeights())
	total, b := c.Calculate(Input{Throughput: 5})
	require.InDelta(t, 5.0, b.Throughput, 0.001)
	require.InDelta(t, 5.0, total, 0.001)

	_, b2 := c.Calculate(Input{Throughput: 8})
	require.InDelta(t, 3.0, b2.Throughput, 0.001)
}

func TestCalculateEmergencyBonus(t *testing.T) {
	c := New(DefaultWeights())
	_, b := c.Calculate(Input{EmergencyHandled: true})
	require.InDelta(t, 5.0, b.Emergency, 0.001)
}

func TestCalculateCongestionPenalty(t *testing.T) {
	c := New(DefaultWeights())
	_, b := c.Calculate(Input{CongestionPoints: 3})
	require.InDelta(t, -6.0, b.Congestion, 0.001)
}

func TestSummaryAggregatesAcrossTicks(t *testing.T) {
	c := New(DefaultWeights())
	c.Calculate(Input{Throughput: 2})
	c.Calculate(Input{Throughput: 5})
	s := c.Summary()
	require.Equal(t, 2, s.Steps)
	require.InDelta(t, 2.0+3.0, s.TotalReward, 0.001)
}

func TestResetClearsEpisodeButKeepsWeights(t *testing.T) {
	c := New(Weights{Throughput: 2.0})
	c.Calculate(Input{Throughput: 3})
	c.Reset()
	require.Empty(t, c.RecentRewards(10))
	require.Equal(t, 2.0, c.Weights().Throughput)
}
