package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_DataURI(t *testing.T) {
	r := &Result{Audio: []byte("ID3abc")}
	uri := r.DataURI()

	assert.Equal(t, "data:audio/mpeg;base64,SUQzYWJj", uri)

	parsed, err := ParseDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, r.Audio, parsed.Audio)
	assert.Equal(t, "audio/mpeg", parsed.ContentType)
}

func TestParseDataURI_Invalid(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"not a data uri", "https://example.com/a.mp3"},
		{"no comma", "data:audio/mpeg;base64"},
		{"not base64", "data:audio/mpeg,abc"},
		{"bad payload", "data:audio/mpeg;base64,!!!"},
		{"empty payload", "data:audio/mpeg;base64,"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDataURI(tt.uri)
			assert.Error(t, err)
		})
	}
}

func TestSniffContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", sniffContentType("audio/mpeg; charset=binary", []byte("x")))
	assert.Equal(t, "audio/mpeg", sniffContentType("", []byte("ID3\x04\x00rest")))
	assert.Equal(t, "audio/wave", sniffContentType("", []byte("RIFF\x24\x00\x00\x00WAVEfmt ")))
	assert.Equal(t, "", sniffContentType("text/html", []byte("<html><body>captcha</body></html>")))
	assert.Equal(t, DefaultContentType, sniffContentType("", []byte{0xff, 0xfb, 0x90, 0x64}))
}
