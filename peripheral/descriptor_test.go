package peripheral

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ble-advertiser/radio"
)

const (
	colourServiceID = "96E4D99A-066F-444C-B67C-112345E3B1A2"
	notifyCharID    = "7C0209C0-93F0-437A-828A-A58379B230C4"
	readCharID      = "3D84E60B-90D0-40D4-993A-1B83424CB868"
	writeCharID     = "1B3DCC2D-CC56-4B47-B6C2-13745858C7DF"
)

func TestParseProperties(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   radio.CharacteristicProperties
	}{
		{"empty", nil, 0},
		{"single", []string{"NOTIFY"}, radio.PropertyNotify},
		{"all core tokens", []string{"READ", "WRITE", "NOTIFY"}, radio.PropertyRead | radio.PropertyWrite | radio.PropertyNotify},
		{"unknown tokens dropped", []string{"READ", "FLY", ""}, radio.PropertyRead},
		{"exact match only", []string{"notify", " READ", "Write"}, 0},
		{"extended tokens not recognized", []string{"INDICATE", "WRITE_WITHOUT_RESPONSE", "BROADCAST"}, 0},
		{"duplicates", []string{"READ", "READ"}, radio.PropertyRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProperties(tt.tokens))
		})
	}
}

func TestParseExtendedProperties(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   radio.CharacteristicProperties
	}{
		{"core tokens", []string{"READ", "NOTIFY"}, radio.PropertyRead | radio.PropertyNotify},
		{"extended tokens", []string{"INDICATE", "WRITE_WITHOUT_RESPONSE", "BROADCAST"}, radio.PropertyIndicate | radio.PropertyWriteWithoutResponse | radio.PropertyBroadcast},
		{"exact match only", []string{"indicate", "NOTIFY "}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseExtendedProperties(tt.tokens))
		})
	}
}

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   radio.AttributePermissions
	}{
		{"empty", nil, 0},
		{"readable", []string{"READABLE"}, radio.PermissionReadable},
		{"both", []string{"READABLE", "WRITABLE"}, radio.PermissionReadable | radio.PermissionWriteable},
		{"unknown dropped", []string{"EXECUTABLE", "WRITABLE"}, radio.PermissionWriteable},
		{"exact match only", []string{"readable", "WRITEABLE"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePermissions(tt.tokens))
		})
	}
}

func TestNewCharacteristicDescriptor(t *testing.T) {
	d, err := NewCharacteristicDescriptor(" "+notifyCharID+" ", []string{"NOTIFY"}, []string{"READABLE", "WRITABLE"}, nil)
	require.NoError(t, err)

	assert.Equal(t, notifyCharID, d.Key())
	assert.Equal(t, radio.PropertyNotify, d.Properties)
	assert.Equal(t, radio.PermissionReadable|radio.PermissionWriteable, d.Permissions)
	assert.Nil(t, d.InitialValue)
	assert.Nil(t, d.Characteristic().Value, "no initial value means a dynamic characteristic")
}

func TestDescriptorCopiesInitialValue(t *testing.T) {
	initial := []byte("#00FF00")
	d, err := NewCharacteristicDescriptor(readCharID, []string{"READ"}, []string{"READABLE"}, initial)
	require.NoError(t, err)

	initial[0] = 'X'
	assert.Equal(t, "#00FF00", string(d.InitialValue))

	c := d.Characteristic()
	c.Value[1] = 'Y'
	assert.Equal(t, "#00FF00", string(d.InitialValue), "each live handle gets its own copy")
}

func TestNewCharacteristicDescriptorInvalidID(t *testing.T) {
	for _, raw := range []string{"", "not-a-uuid", "1800", "96E4D99A066F444CB67C112345E3B1A2", "ZZE4D99A-066F-444C-B67C-112345E3B1A2"} {
		_, err := NewCharacteristicDescriptor(raw, []string{"READ"}, nil, nil)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrInvalidIdentifier), raw)

		var idErr *InvalidIdentifierError
		require.True(t, errors.As(err, &idErr))
		assert.Equal(t, raw, idErr.Raw)
	}
}

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, readCharID, canonicalKey("3d84e60b-90d0-40d4-993a-1b83424cb868"))
	assert.Equal(t, "NOT-A-UUID", canonicalKey(" not-a-uuid "))
}
