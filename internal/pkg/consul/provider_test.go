package consul

import (
	"fmt"
	"testing"

	"github.com/airenas/vox/internal/pkg/test/mocks"
	sapi "github.com/airenas/vox/internal/pkg/stream/api"
	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
)

func Test_Get_empty(t *testing.T) {
	p := newProvider(nil, "stt")
	op, name, err := p.Get()
	assert.Nil(t, op)
	assert.Equal(t, "", name)
	assert.NotNil(t, err)
}

func Test_Get_single(t *testing.T) {
	p := newProvider(nil, "stt")
	op := &mocks.Opener{}
	p.openers = append(p.openers, &opWrap{real: op, srv: "olia", priority: 1})
	rop, name, err := p.Get()
	testAssertEqPtr(t, op, rop)
	assert.Equal(t, "olia", name)
	assert.Nil(t, err)
}

func Test_Get_byPriority(t *testing.T) {
	p := newProvider(nil, "stt")
	op := &mocks.Opener{}
	op1 := &mocks.Opener{}
	p.openers = append(p.openers, &opWrap{real: op, srv: "olia", priority: 1})
	p.openers = append(p.openers, &opWrap{real: op1, srv: "olia1", priority: 1})
	for i := 0; i < 20; i++ {
		rop, name, err := p.Get()
		assert.Nil(t, err)
		assert.NotNil(t, rop)
		assert.Contains(t, []string{"olia", "olia1"}, name)
	}
}

func testAssertEqPtr(t *testing.T, op, exp sapi.Opener) {
	t.Helper()
	assert.Equal(t, fmt.Sprintf("%p", op), fmt.Sprintf("%p", exp))
}

func TestProvider_updateSrv_adds(t *testing.T) {
	p := newProvider(nil, "stt")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: map[string]string{streamKey: "http://srv:80"}}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.openers))
}

func TestProvider_updateSrv_noMetaUsesAddress(t *testing.T) {
	p := newProvider(nil, "stt")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: map[string]string{}}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.openers))
}

func TestProvider_updateSrv_wrongPriority(t *testing.T) {
	p := newProvider(nil, "stt")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: map[string]string{priorityKey: "olia"}}}})
	assert.NotNil(t, err)
	assert.Equal(t, 0, len(p.openers))
}

func TestProvider_updateSrv_drops(t *testing.T) {
	p := newProvider(nil, "stt")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: map[string]string{}}}})
	assert.Nil(t, err)
	err = p.updateSrv([]*api.ServiceEntry{})
	assert.Nil(t, err)
	assert.Equal(t, 0, len(p.openers))
}

func TestProvider_updateSrv_keeps(t *testing.T) {
	p := newProvider(nil, "stt")
	entry := &api.ServiceEntry{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: map[string]string{}}}
	assert.Nil(t, p.updateSrv([]*api.ServiceEntry{entry}))
	old := p.openers[0]
	assert.Nil(t, p.updateSrv([]*api.ServiceEntry{entry}))
	assert.Equal(t, 1, len(p.openers))
	assert.Same(t, old, p.openers[0])
}
