package advertising

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal(t *testing.T) {
	fields := []Field{
		Flags(DefaultFlags),
		Name("Blue", true),
		Services16([]uint16{0x180F, 0x180A}, true),
		{Type: TypeTxPower, Data: []byte{0xFC}},
	}

	packet, err := Marshal(fields)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x02, TypeFlags, DefaultFlags,
		0x05, TypeLocalName, 'B', 'l', 'u', 'e',
		0x05, TypeAll16, 0x0F, 0x18, 0x0A, 0x18,
		0x02, TypeTxPower, 0xFC,
	}, packet)

	decoded, err := Unmarshal(packet)
	require.NoError(t, err)
	assert.Equal(t, fields, decoded)
}

func TestMarshalTooLong(t *testing.T) {
	_, err := Marshal([]Field{Name(strings.Repeat("x", 30), true)})
	assert.Error(t, err)
}

func TestUnmarshalOverrun(t *testing.T) {
	_, err := Unmarshal([]byte{0x05, TypeFlags, 0x06})
	assert.Error(t, err)
}

func TestUnmarshalStopsAtPadding(t *testing.T) {
	fields, err := Unmarshal([]byte{0x02, TypeFlags, 0x06, 0x00, 0x00})
	require.NoError(t, err)
	assert.Len(t, fields, 1)
}

func TestLocalNamePrefersComplete(t *testing.T) {
	adv, err := Marshal([]Field{Name("Col", false)})
	require.NoError(t, err)
	rsp, err := Marshal([]Field{Name("ColorServer", true)})
	require.NoError(t, err)

	name, err := LocalName(adv, rsp)
	require.NoError(t, err)
	assert.Equal(t, "ColorServer", name)

	name, err = LocalName(adv)
	require.NoError(t, err)
	assert.Equal(t, "Col", name)
}

func TestServicesField(t *testing.T) {
	colour := uuid.MustParse("96E4D99A-066F-444C-B67C-112345E3B1A2")
	f := Services128([]uuid.UUID{colour}, false)
	assert.Equal(t, byte(TypeSome128), f.Type)
	assert.Equal(t, byte(0xA2), f.Data[0], "little-endian on the air")
	assert.Equal(t, []uuid.UUID{colour}, f.Services())

	assert.Empty(t, Name("x", true).Services())
}

func TestShort16(t *testing.T) {
	battery := uuid.MustParse("0000180F-0000-1000-8000-00805F9B34FB")
	s, ok := Short16(battery)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x180F), s)
	assert.Equal(t, battery, Long16(0x180F))

	_, ok = Short16(uuid.MustParse("96E4D99A-066F-444C-B67C-112345E3B1A2"))
	assert.False(t, ok, "vendor UUID has no 16-bit form")
}
