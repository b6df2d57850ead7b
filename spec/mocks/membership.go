package mocks

import (
	"go.wirecache.dev/wirecache/spec/cluster"

	"github.com/stretchr/testify/mock"
)

type Membership struct {
	mock.Mock
}

var _ cluster.Membership = (*Membership)(nil)

func (m *Membership) CurrentMembers() []cluster.Member {
	args := m.Called()
	v := args.Get(0)
	if v == nil {
		return nil
	}
	return v.([]cluster.Member)
}

func (m *Membership) RegisterListener(listener cluster.MembershipListener) {
	m.Called(listener)
}
