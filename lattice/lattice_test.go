package lattice

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmptrace/paristraceroute/internal/errclass"
)

func TestAddLinkRejectsNonMonotonic(t *testing.T) {
	l := New()
	a := l.AddInterface(1, net.ParseIP("10.0.0.1"))
	c := l.AddInterface(3, net.ParseIP("10.0.0.3"))

	_, err := l.AddLink(a, c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrNonMonotonic))
}

func TestECMPSplitProducesTwoEdgesFromOneParent(t *testing.T) {
	l := New()
	parent := l.AddInterface(1, net.ParseIP("10.0.0.1"))
	a1 := l.AddInterface(2, net.ParseIP("10.0.0.2"))
	a2 := l.AddInterface(2, net.ParseIP("10.0.0.3"))

	_, err := l.AddLink(parent, a1)
	require.NoError(t, err)
	_, err = l.AddLink(parent, a2)
	require.NoError(t, err)

	succ := l.Successors(parent)
	require.Len(t, succ, 2)
	assert.ElementsMatch(t, []net.IP{a1.Address, a2.Address}, []net.IP{succ[0].Address, succ[1].Address})
}

func TestAddInterfaceFusesSameAddressAndTTL(t *testing.T) {
	l := New()
	n1 := l.AddInterface(4, net.ParseIP("10.0.0.9"))
	n2 := l.AddInterface(4, net.ParseIP("10.0.0.9"))
	assert.Same(t, n1, n2)
}

func TestDumpVisitsBFSByTTL(t *testing.T) {
	l := New()
	root := l.AddInterface(1, net.ParseIP("10.0.0.1"))
	mid := l.AddInterface(2, net.ParseIP("10.0.0.2"))
	leaf := l.AddInterface(3, net.ParseIP("10.0.0.3"))
	_, _ = l.AddLink(root, mid)
	_, _ = l.AddLink(mid, leaf)

	var order []int
	l.Dump(func(n *Node, successors []*Node) {
		order = append(order, n.TTL)
	})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestAddLinkAccumulatesWitnessCount(t *testing.T) {
	l := New()
	a := l.AddInterface(1, net.ParseIP("10.0.0.1"))
	b := l.AddInterface(2, net.ParseIP("10.0.0.2"))

	e1, err := l.AddLink(a, b)
	require.NoError(t, err)
	e2, err := l.AddLink(a, b)
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.Equal(t, 2, e1.Witness)
}
