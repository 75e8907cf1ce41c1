package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEscape(t *testing.T) {
	for in, want := range map[string]byte{"^]": 0x1D, "^a": 0x01, "^A": 0x01, "~": '~'} {
		got, err := ParseEscape(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "ab", "^1"} {
		_, err := ParseEscape(in)
		assert.Error(t, err, in)
	}
	assert.Equal(t, "^]", FormatEscape(DefaultEscape))
	assert.Equal(t, "~", FormatEscape('~'))
}

func TestFilter(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		out    string
		detach bool
		help   bool
	}{
		{"plain", "ls\r", "ls\r", false, false},
		{"detach", "ab\x1d.cd", "ab", true, false},
		{"help", "\x1d?", "", false, true},
		{"literal escape", "\x1d\x1d", "\x1d", false, false},
		{"unknown forwards both", "\x1dx", "\x1dx", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &filter{escape: DefaultEscape}
			out, detach, help := f.feed([]byte(tc.in))
			assert.Equal(t, tc.out, string(out))
			assert.Equal(t, tc.detach, detach)
			assert.Equal(t, tc.help, help)
		})
	}
}

func TestFilterAcrossReads(t *testing.T) {
	f := &filter{escape: DefaultEscape}
	out, detach, _ := f.feed([]byte("a\x1d"))
	assert.Equal(t, "a", string(out))
	assert.False(t, detach)
	_, detach, _ = f.feed([]byte("."))
	assert.True(t, detach)
}

func TestRelayDetach(t *testing.T) {
	guestOutR, guestOutW := io.Pipe()
	defer guestOutW.Close() //nolint:errcheck
	var guestIn, localOut bytes.Buffer

	done := make(chan error, 1)
	go func() {
		done <- Relay(context.Background(), strings.NewReader("uname\r\x1d."), &localOut, &guestIn, guestOutR, DefaultEscape)
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDetached)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not return")
	}
	assert.Equal(t, "uname\r", guestIn.String())
}

func TestRelayGuestExit(t *testing.T) {
	localInR, localInW := io.Pipe()
	defer localInW.Close() //nolint:errcheck
	var guestIn, localOut bytes.Buffer

	err := Relay(context.Background(), localInR, &localOut, &guestIn, strings.NewReader("login: "), DefaultEscape)
	require.NoError(t, err)
	assert.Equal(t, "login: ", localOut.String())
}
