package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_ScanValue(t *testing.T) {
	meta := Metadata{"from_me": false, "group": true}

	v, err := meta.Value()
	require.NoError(t, err)

	var got Metadata
	require.NoError(t, got.Scan(v))
	assert.Equal(t, false, got["from_me"])
	assert.Equal(t, true, got["group"])
}

func TestMetadata_ScanNilYieldsEmptyMap(t *testing.T) {
	var got Metadata
	require.NoError(t, got.Scan(nil))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMetadata_ScanString(t *testing.T) {
	var got Metadata
	require.NoError(t, got.Scan(`{"k":"v"}`))
	assert.Equal(t, "v", got["k"])
}

func TestMetadata_ScanUnsupportedType(t *testing.T) {
	var got Metadata
	assert.Error(t, got.Scan(42))
}

func TestMediaList_ScanValue(t *testing.T) {
	list := MediaList{
		{Kind: MediaAudio, URL: "audio/2026/02/a.mp3", MimeType: "audio/mpeg"},
		{Kind: MediaLocation, Latitude: -23.55, Longitude: -46.63, Address: "São Paulo"},
	}

	v, err := list.Value()
	require.NoError(t, err)

	var got MediaList
	require.NoError(t, got.Scan(v))
	require.Len(t, got, 2)
	assert.Equal(t, list[0], got[0])
	assert.Equal(t, list[1], got[1])
}

func TestHeaders_NilValueEncodesEmptyObject(t *testing.T) {
	var h Headers
	v, err := h.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(v.([]byte)))
}

func TestDestinationList_NilValueIsNull(t *testing.T) {
	var dl DestinationList
	v, err := dl.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDestinationList_ScanValue(t *testing.T) {
	dl := DestinationList{DestinationCRM, DestinationWebhooks}
	v, err := dl.Value()
	require.NoError(t, err)

	var got DestinationList
	require.NoError(t, got.Scan(v))
	assert.Equal(t, dl, got)
}
