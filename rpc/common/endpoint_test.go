package common

import (
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestParseEndpointDescriptor(t *testing.T) {
	ep := ParseEndpoint("host=foo;port=7000;db=2")

	assert.Equal(t, "foo", ep.Host)
	assert.Equal(t, 7000, ep.Port)
	assert.Equal(t, 2, ep.DB)
	assert.Empty(t, ep.Password)
}

func TestParseEndpointDefaults(t *testing.T) {
	ep := ParseEndpoint("")
	assert.Equal(t, NewEndpoint(DefaultHost, DefaultPort), ep)
}

func TestParseEndpointIsLenient(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		want       Endpoint
	}{
		{
			name:       "keys are case-insensitive",
			descriptor: "HOST=bar;Port=1234;PassWord=secret;DB=3",
			want:       Endpoint{Host: "bar", Port: 1234, Password: "secret", DB: 3},
		},
		{
			name:       "bad numbers keep defaults",
			descriptor: "host=bar;port=abc;db=x",
			want:       Endpoint{Host: "bar", Port: DefaultPort, DB: DefaultDB},
		},
		{
			name:       "pairs without exactly one equal sign are skipped",
			descriptor: "host=bar;port;password=a=b;db=1",
			want:       Endpoint{Host: "bar", Port: DefaultPort, DB: 1},
		},
		{
			name:       "unknown keys are ignored",
			descriptor: "host=bar;ssl=true;retries=3",
			want:       Endpoint{Host: "bar", Port: DefaultPort},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseEndpoint(tt.descriptor))
		})
	}
}

func TestParseAddr(t *testing.T) {
	assert.Equal(t, Endpoint{Host: "a", Port: 6379}, ParseAddr("a:6379"))
	assert.Equal(t, Endpoint{Host: "a", Port: DefaultPort}, ParseAddr("a"))
	assert.Equal(t, Endpoint{Host: "b", Port: 7000, Password: "pw"}, ParseAddr("pw@b:7000"))
	assert.Equal(t, "a:6379", ParseAddr("a:6379").String())

	eps := ParseAddrs("a:1", "", " ", "b:2")
	require.Len(t, eps, 2)
	assert.Equal(t, "b:2", eps[1].Addr())
}

func TestEndpointStructuralEquality(t *testing.T) {
	a := ParseAddr("a:6379")
	b := ParseEndpoint("host=a;port=6379")
	assert.True(t, a == b)

	c := a.WithTimeouts(time.Second, time.Second, 0)
	assert.False(t, a == c)
	assert.Zero(t, a.SendTimeout, "With* helpers must not modify the receiver")
}

func TestValidate(t *testing.T) {
	conf := DefaultClientConfig()
	require.NoError(t, conf.Validate())

	conf.Masters = nil
	assert.True(t, errors.Is(conf.Validate(), ErrInvalidConfig))

	conf = DefaultClientConfig()
	conf.LogLevel = "loud"
	assert.True(t, errors.Is(conf.Validate(), ErrInvalidConfig))
}
