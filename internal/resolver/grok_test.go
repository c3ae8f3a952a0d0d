package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cachegate/cachegate/internal/dns"
)

func TestQuestionMatches_RequiresCaseInsensitiveNameAndType(t *testing.T) {
	q := &query{name: "Example.COM", qtype: uint16(dns.TypeA)}
	packet := dns.Packet{Questions: []dns.Question{
		{Name: "example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN)},
	}}
	assert.True(t, questionMatches(q, packet))

	wrongType := dns.Packet{Questions: []dns.Question{
		{Name: "example.com", Type: uint16(dns.TypeAAAA), Class: uint16(dns.ClassIN)},
	}}
	assert.False(t, questionMatches(q, wrongType))
}

func TestQuestionMatches_RejectsMultiQuestion(t *testing.T) {
	q := &query{name: "example.com", qtype: uint16(dns.TypeA)}
	packet := dns.Packet{Questions: []dns.Question{
		{Name: "example.com", Type: uint16(dns.TypeA)},
		{Name: "example.com", Type: uint16(dns.TypeA)},
	}}
	assert.False(t, questionMatches(q, packet))
}

func TestRcodeError_MapsKnownCodes(t *testing.T) {
	assert.Contains(t, rcodeError(dns.RCodeNXDomain).Error(), "non-existent")
	assert.Contains(t, rcodeError(dns.RCodeServFail).Error(), "server failure")
	assert.NotEmpty(t, rcodeError(dns.RCode(99)).Error())
}

func TestCompleteQuery_WaitsForSlaveBeforeDelivering(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	master := &query{orig: "host", name: "host", qtype: uint16(dns.TypeA)}
	slave := &query{orig: "host", name: "host", qtype: uint16(dns.TypeAAAA), master: master}
	master.slave = slave

	var delivered bool
	master.waiters = append(master.waiters, func(a []dns.Record, err error) { delivered = true })

	master.answers = []dns.Record{{Name: "host"}}
	r.completeQuery(master, nil)
	assert.False(t, delivered, "must wait for the AAAA slave before delivering")

	slave.answers = []dns.Record{}
	r.completeQuery(slave, nil)
	assert.True(t, delivered)
}
