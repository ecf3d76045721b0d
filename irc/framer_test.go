package irc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, f *Framer) []string {
	t.Helper()
	var out []string
	for {
		frame, ok, err := f.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, string(frame))
	}
}

func TestFramerSplitsLines(t *testing.T) {
	f := NewFramer(BufferSize)
	f.Write([]byte("PING :tmi.twitch.tv\r\n:a!a@a PRIVMSG #x :hi\r\n"))

	assert.Equal(t, []string{"PING :tmi.twitch.tv", ":a!a@a PRIVMSG #x :hi"}, drain(t, f))
	assert.Zero(t, f.Buffered())
}

func TestFramerReassemblesAcrossWrites(t *testing.T) {
	f := NewFramer(BufferSize)
	f.Write([]byte("PRIVMSG #x :hel"))
	assert.Empty(t, drain(t, f))

	f.Write([]byte("lo\r"))
	assert.Empty(t, drain(t, f))

	f.Write([]byte("\nPI"))
	assert.Equal(t, []string{"PRIVMSG #x :hello"}, drain(t, f))
	assert.Equal(t, 2, f.Buffered())

	f.Write([]byte("NG\r\n"))
	assert.Equal(t, []string{"PING"}, drain(t, f))
}

func TestFramerKeepsBareLF(t *testing.T) {
	f := NewFramer(BufferSize)
	f.Write([]byte("a\nb\r\n"))
	assert.Equal(t, []string{"a\nb"}, drain(t, f))
}

func TestFramerEmptyLine(t *testing.T) {
	f := NewFramer(BufferSize)
	f.Write([]byte("\r\nx\r\n"))
	assert.Equal(t, []string{"", "x"}, drain(t, f))
}

func TestFramerTooLong(t *testing.T) {
	f := NewFramer(BufferSize)
	f.Write(bytes.Repeat([]byte("a"), BufferSize-1))
	_, ok, err := f.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	f.Write([]byte("a"))
	_, _, err = f.Next()
	assert.ErrorIs(t, err, ErrFrameTooLong)

	f.Reset()
	assert.Zero(t, f.Buffered())
}

func TestFramerCompactsLongStreams(t *testing.T) {
	f := NewFramer(64)
	line := []byte("0123456789abcdef\r\n")
	for i := 0; i < 1000; i++ {
		f.Write(line)
		frame, ok, err := f.Next()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "0123456789abcdef", string(frame))
	}
	assert.LessOrEqual(t, cap(f.buf), 256)
}

func TestFramerFrameIsCopied(t *testing.T) {
	f := NewFramer(BufferSize)
	f.Write([]byte("one\r\n"))
	frame, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)

	f.Write([]byte("two\r\n"))
	assert.Equal(t, "one", string(frame))
}
