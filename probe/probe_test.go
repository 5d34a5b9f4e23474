package probe

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmptrace/paristraceroute/internal/errclass"
)

func TestSetProtocolsIdempotentUntilFirstWrite(t *testing.T) {
	p := Create()
	require.NoError(t, p.SetProtocols(NewIPv4Layer(), NewUDPLayer()))
	require.NoError(t, p.SetProtocols(NewIPv4Layer(), NewUDPLayer()))

	require.NoError(t, p.SetField("ipv4", "ttl", 5))

	err := p.SetProtocols(NewIPv4Layer(), NewUDPLayer())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrSchemaFrozen))
}

func TestSetFieldResolvesUnambiguousLayer(t *testing.T) {
	p := Create()
	require.NoError(t, p.SetProtocols(NewIPv4Layer()))
	require.NoError(t, p.SetField("", "ttl", 7))

	ttl, err := p.GetFieldTTL()
	require.NoError(t, err)
	assert.Equal(t, 7, ttl)
}

func TestFlowIDStableAcrossClone(t *testing.T) {
	p := Create()
	require.NoError(t, p.SetProtocols(NewIPv4Layer(), NewUDPLayer()))
	require.NoError(t, p.SetFields(
		FieldAssignment{Layer: "ipv4", Field: "src_ip", Value: net.ParseIP("10.0.0.1")},
		FieldAssignment{Layer: "ipv4", Field: "dst_ip", Value: net.ParseIP("10.0.0.2")},
		FieldAssignment{Layer: "udp", Field: "src_port", Value: 3083},
		FieldAssignment{Layer: "udp", Field: "dst_port", Value: 30000},
	))

	flow, err := p.FlowID()
	require.NoError(t, err)

	clone := p.Clone()
	cloneFlow, err := clone.FlowID()
	require.NoError(t, err)

	assert.True(t, flow.Equal(cloneFlow))
}

func TestSetFieldsRollsBackOnFailure(t *testing.T) {
	p := Create()
	require.NoError(t, p.SetProtocols(NewIPv4Layer(), NewUDPLayer()))

	err := p.SetFields(
		FieldAssignment{Layer: "ipv4", Field: "ttl", Value: 3},
		FieldAssignment{Layer: "udp", Field: "dst_port", Value: "not-an-int"},
	)
	require.Error(t, err)

	ttl, err := p.GetFieldTTL()
	require.NoError(t, err)
	assert.NotEqual(t, 3, ttl, "partial write should not have been applied")
}

// GetFieldTTL is a tiny test helper wrapping the ipv4 TTL accessor.
func (p *Probe) GetFieldTTL() (int, error) {
	for _, l := range p.layers {
		if l.Name() == "ipv4" {
			v, err := l.GetField("ttl")
			if err != nil {
				return 0, err
			}
			return int(v.(uint8)), nil
		}
	}
	return 0, errors.New("no ipv4 layer")
}
