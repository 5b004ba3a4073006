package collab

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestIdOrder(t *testing.T) {
	// ulids order by create time at millisecond granularity
	a := NewId()
	for i := 0; i < 8; i++ {
		time.Sleep(2 * time.Millisecond)
		b := NewId()
		assert.Equal(t, a.LessThan(b), true)
		assert.Equal(t, b.LessThan(a), false)
		assert.Equal(t, b == a, false)
		a = b
	}
}

func TestIdJsonCodec(t *testing.T) {
	type Test struct {
		A Id  `json:"a,omitempty"`
		B *Id `json:"b,omitempty"`
	}

	test1 := &Test{}
	test1.A = NewId()
	b_ := NewId()
	test1.B = &b_

	test1Json, err := json.Marshal(test1)
	assert.Equal(t, err, nil)

	test2 := &Test{}
	err = json.Unmarshal(test1Json, test2)
	assert.Equal(t, err, nil)

	assert.Equal(t, test1.A, test2.A)
	assert.Equal(t, test1.B, test2.B)
}

func TestIdParse(t *testing.T) {
	a := NewId()
	parsed, err := ParseId(a.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed, a)

	_, err = ParseId("not-an-id")
	assert.NotEqual(t, err, nil)

	b, err := IdFromBytes(a.Bytes())
	assert.Equal(t, err, nil)
	assert.Equal(t, b, a)

	_, err = IdFromBytes([]byte{0x01})
	assert.NotEqual(t, err, nil)
}

func TestChannelName(t *testing.T) {
	documentId := NewId()
	assert.Equal(t, ChannelName(documentId), fmt.Sprintf("doc/%s", documentId))
	// deterministic
	assert.Equal(t, ChannelName(documentId), ChannelName(documentId))
}
