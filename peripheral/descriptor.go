package peripheral

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/user/ble-advertiser/radio"
)

// CharacteristicConfig is the raw, caller-supplied description of one
// characteristic. Tokens are the strings accepted by ParseProperties and
// ParsePermissions.
type CharacteristicConfig struct {
	UUID         string
	Properties   []string
	Permissions  []string
	InitialValue []byte
}

// CharacteristicDescriptor is the validated, immutable form of a CharacteristicConfig.
type CharacteristicDescriptor struct {
	ID           uuid.UUID
	Properties   radio.CharacteristicProperties
	Permissions  radio.AttributePermissions
	InitialValue []byte
}

var propertyTokens = map[string]radio.CharacteristicProperties{
	"READ":   radio.PropertyRead,
	"WRITE":  radio.PropertyWrite,
	"NOTIFY": radio.PropertyNotify,
}

// extendedPropertyTokens are recognized only by ParseExtendedProperties.
var extendedPropertyTokens = map[string]radio.CharacteristicProperties{
	"INDICATE":               radio.PropertyIndicate,
	"WRITE_WITHOUT_RESPONSE": radio.PropertyWriteWithoutResponse,
	"BROADCAST":              radio.PropertyBroadcast,
}

var permissionTokens = map[string]radio.AttributePermissions{
	"READABLE": radio.PermissionReadable,
	"WRITABLE": radio.PermissionWriteable,
}

// NewCharacteristicDescriptor validates rawID and folds the tokens into flag
// sets. Tokens match exactly; unknown tokens are dropped.
func NewCharacteristicDescriptor(rawID string, properties, permissions []string, initial []byte) (CharacteristicDescriptor, error) {
	return newDescriptor(rawID, ParseProperties(properties), ParsePermissions(permissions), initial)
}

func newDescriptor(rawID string, props radio.CharacteristicProperties, perms radio.AttributePermissions, initial []byte) (CharacteristicDescriptor, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return CharacteristicDescriptor{}, err
	}

	d := CharacteristicDescriptor{
		ID:          id,
		Properties:  props,
		Permissions: perms,
	}
	if initial != nil {
		d.InitialValue = append([]byte{}, initial...)
	}
	return d, nil
}

// FromConfig builds a descriptor from a CharacteristicConfig
func FromConfig(c CharacteristicConfig) (CharacteristicDescriptor, error) {
	return NewCharacteristicDescriptor(c.UUID, c.Properties, c.Permissions, c.InitialValue)
}

// FromConfigExtended is FromConfig with ParseExtendedProperties
func FromConfigExtended(c CharacteristicConfig) (CharacteristicDescriptor, error) {
	return newDescriptor(c.UUID, ParseExtendedProperties(c.Properties), ParsePermissions(c.Permissions), c.InitialValue)
}

// ParseID parses the textual 8-4-4-4-12 UUID form.
func ParseID(raw string) (uuid.UUID, error) {
	s := strings.TrimSpace(raw)
	if len(s) != 36 {
		return uuid.Nil, &InvalidIdentifierError{Raw: raw, Err: errors.Errorf("expected 36 characters, got %d", len(s))}
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &InvalidIdentifierError{Raw: raw, Err: err}
	}
	return id, nil
}

// ParseProperties returns the union of the recognized property tokens:
// READ, WRITE and NOTIFY.
func ParseProperties(tokens []string) radio.CharacteristicProperties {
	var props radio.CharacteristicProperties
	for _, t := range tokens {
		props |= propertyTokens[t]
	}
	return props
}

// ParseExtendedProperties also recognizes INDICATE, WRITE_WITHOUT_RESPONSE
// and BROADCAST.
func ParseExtendedProperties(tokens []string) radio.CharacteristicProperties {
	props := ParseProperties(tokens)
	for _, t := range tokens {
		props |= extendedPropertyTokens[t]
	}
	return props
}

// ParsePermissions returns the union of the recognized permission tokens:
// READABLE and WRITABLE.
func ParsePermissions(tokens []string) radio.AttributePermissions {
	var perms radio.AttributePermissions
	for _, t := range tokens {
		perms |= permissionTokens[t]
	}
	return perms
}

// validate rejects a static value on a characteristic that is not
// read-only. The radio stack answers reads of static values itself.
func (d CharacteristicDescriptor) validate() error {
	if d.InitialValue != nil && d.Properties&^(radio.PropertyRead|radio.PropertyBroadcast) != 0 {
		return &StaticValueError{ID: d.Key(), Properties: d.Properties}
	}
	return nil
}

// Key returns the canonical identifier the registry files this characteristic under.
func (d CharacteristicDescriptor) Key() string {
	return radio.CanonicalID(d.ID)
}

// Characteristic builds a fresh live handle for the radio stack.
func (d CharacteristicDescriptor) Characteristic() *radio.MutableCharacteristic {
	c := &radio.MutableCharacteristic{
		UUID:        d.ID,
		Properties:  d.Properties,
		Permissions: d.Permissions,
	}
	if d.InitialValue != nil {
		c.Value = append([]byte{}, d.InitialValue...)
	}
	return c
}

// canonicalKey maps a caller-supplied identifier to a registry key.
// Malformed text is kept as trimmed upper-case so it can be stored but never matches.
func canonicalKey(raw string) string {
	if id, err := ParseID(raw); err == nil {
		return radio.CanonicalID(id)
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}
