package audio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssmlaudio/pkg/contract"
)

func TestProbeSilence(t *testing.T) {
	info, err := Probe(bytes.NewReader(Silence(8)))
	require.NoError(t, err)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Positive(t, info.Length)
	assert.Positive(t, info.Duration)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Silence(4)))

	err := Validate(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrResponseInvalid))

	err = Validate([]byte("definitely not audio"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrResponseInvalid))
}

func TestStripTags(t *testing.T) {
	frames := Silence(2)
	v2 := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 5, 1, 2, 3, 4, 5}
	in := append(append(append([]byte{}, v2...), frames...), ID3v1(contract.TrackMeta{Title: "x"})...)
	out, err := StripTags(in)
	require.NoError(t, err)
	assert.Equal(t, frames, out)

	_, err = StripTags([]byte{'I', 'D', '3', 4, 0, 0, 0, 0, 1, 0})
	assert.Error(t, err)
}

func TestID3v1(t *testing.T) {
	tag := ID3v1(contract.TrackMeta{
		Album: "Manual", Author: "ACME", Title: "Introduction to a title that is longer than thirty bytes",
		Track: 3, Genre: "Audio Book", Year: "2024",
	})
	require.Len(t, tag, 128)
	assert.Equal(t, "TAG", string(tag[:3]))
	assert.Equal(t, "Introduction to a title that i", string(tag[3:33]))
	assert.Equal(t, "ACME", string(bytes.TrimRight(tag[33:63], "\x00")))
	assert.Equal(t, "2024", string(tag[93:97]))
	assert.Equal(t, byte(3), tag[126])
	assert.Equal(t, byte(183), tag[127])

	assert.Equal(t, byte(0xFF), ID3v1(contract.TrackMeta{Genre: "jazz-fusion"})[127])
}
