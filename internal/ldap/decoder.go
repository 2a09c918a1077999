package ldap

import (
	"encoding/hex"
	"slices"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Reserved profile keys.
const (
	ProfileKeyDN       = "dn"
	ProfileKeyControls = "controls"
)

// Profile is a normalized directory entry. Each attribute maps to a scalar when
// it had exactly one value and to a slice otherwise; "dn" and "controls" are always set.
type Profile map[string]any

// DN returns the distinguished name of the entry.
func (p Profile) DN() string {
	dn, _ := p[ProfileKeyDN].(string)
	return dn
}

// Controls returns the response controls that accompanied the entry.
func (p Profile) Controls() []ControlValue {
	controls, _ := p[ProfileKeyControls].([]ControlValue)
	return controls
}

// Lookup returns the value stored for an attribute, matching the name
// case-insensitively when there is no exact key.
func (p Profile) Lookup(name string) (any, bool) {
	if v, ok := p[name]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Strings returns the string values of an attribute regardless of collapsing.
func (p Profile) Strings(name string) []string {
	v, ok := p.Lookup(name)
	if !ok {
		return nil
	}

	switch value := v.(type) {
	case string:
		return []string{value}
	case []string:
		return slices.Clone(value)
	default:
		return nil
	}
}

// First returns the first string value of an attribute, or "".
func (p Profile) First(name string) string {
	if values := p.Strings(name); len(values) > 0 {
		return values[0]
	}
	return ""
}

// ControlValue is the structured projection of a response control.
type ControlValue struct {
	Type        string `json:"type"`
	Criticality bool   `json:"criticality"`
	Value       string `json:"value,omitempty"`
}

// valueDecoder projects the values of one attribute.
type valueDecoder func(attr *ldap.EntryAttribute) any

// EntryDecoder turns raw search entries into profiles. It holds no state
// beyond its strategy table and is safe for concurrent use.
type EntryDecoder struct {
	strategies map[string]valueDecoder
	guids      *GUIDHandler
	sids       *SIDHandler
}

// DecoderOption configures an EntryDecoder.
type DecoderOption func(*EntryDecoder)

// WithSIDFormatting renders objectSid values as S-1-... strings.
func WithSIDFormatting() DecoderOption {
	return func(d *EntryDecoder) {
		d.strategies["objectsid"] = d.decodeSID
	}
}

// NewEntryDecoder creates a decoder with the default strategy table:
// photos stay raw, objectGUID is formatted, everything else is string-decoded.
func NewEntryDecoder(opts ...DecoderOption) *EntryDecoder {
	d := &EntryDecoder{
		guids: NewGUIDHandler(),
		sids:  NewSIDHandler(),
	}
	d.strategies = map[string]valueDecoder{
		"thumbnailphoto": decodeBytes,
		"jpegphoto":      decodeBytes,
		"objectguid":     d.decodeGUID,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Decode converts an entry and the response controls into a Profile. It never fails.
func (d *EntryDecoder) Decode(entry *ldap.Entry, controls []ldap.Control) Profile {
	profile := make(Profile, len(entry.Attributes)+2)

	for _, attr := range entry.Attributes {
		decode, ok := d.strategies[strings.ToLower(attr.Name)]
		if !ok {
			decode = decodeStrings
		}
		profile[attr.Name] = decode(attr)
	}

	projected := make([]ControlValue, 0, len(controls))
	for _, control := range controls {
		projected = append(projected, projectControl(control))
	}

	profile[ProfileKeyDN] = entry.DN
	profile[ProfileKeyControls] = projected

	return profile
}

func decodeStrings(attr *ldap.EntryAttribute) any {
	return collapse(attr.Values)
}

func decodeBytes(attr *ldap.EntryAttribute) any {
	return collapse(attr.ByteValues)
}

// decodeGUID formats only the first value; an objectGUID is single-valued.
func (d *EntryDecoder) decodeGUID(attr *ldap.EntryAttribute) any {
	if len(attr.ByteValues) == 0 {
		return []string{}
	}
	return d.guids.FormatGUIDValue(attr.ByteValues[0])
}

func (d *EntryDecoder) decodeSID(attr *ldap.EntryAttribute) any {
	values := make([]string, 0, len(attr.ByteValues))
	for _, raw := range attr.ByteValues {
		sid, err := d.sids.ConvertBinarySIDToString(raw)
		if err != nil {
			sid = hex.EncodeToString(raw)
		}
		values = append(values, sid)
	}
	return collapse(values)
}

// collapse returns an empty slice, the single element, or a shallow copy.
func collapse[T any](values []T) any {
	switch len(values) {
	case 0:
		return []T{}
	case 1:
		return values[0]
	default:
		return slices.Clone(values)
	}
}

// projectControl flattens a response control. go-ldap discards criticality
// when it decodes paging, password-policy and the Microsoft marker controls,
// so those always project as non-critical. Types not listed keep String().
func projectControl(control ldap.Control) ControlValue {
	projected := ControlValue{
		Type:  control.GetControlType(),
		Value: control.String(),
	}

	switch c := control.(type) {
	case *ldap.ControlString:
		projected.Criticality = c.Criticality
		projected.Value = c.ControlValue
	case *ldap.ControlManageDsaIT:
		projected.Criticality = c.Criticality
		projected.Value = ""
	case *ldap.ControlMicrosoftSDFlags:
		projected.Criticality = c.Criticality
		projected.Value = strconv.FormatInt(int64(c.ControlValue), 10)
	case *ldap.ControlServerSideSortingResult:
		projected.Criticality = c.Criticality
		projected.Value = strconv.FormatInt(int64(c.Result), 10)
	case *ldap.ControlDirSync:
		projected.Criticality = c.Criticality
		projected.Value = hex.EncodeToString(c.Cookie)
	case *ldap.ControlSyncState:
		projected.Criticality = c.Criticality
		projected.Value = c.EntryUUID.String()
	case *ldap.ControlSyncDone:
		projected.Criticality = c.Criticality
		projected.Value = hex.EncodeToString(c.Cookie)
	case *ldap.ControlSyncInfo:
		projected.Criticality = c.Criticality
	case *ldap.ControlPaging:
		projected.Value = hex.EncodeToString(c.Cookie)
	case *ldap.ControlVChuPasswordMustChange:
		projected.Value = strconv.FormatBool(c.MustChange)
	case *ldap.ControlVChuPasswordWarning:
		projected.Value = strconv.FormatInt(c.Expire, 10)
	case *ldap.ControlMicrosoftNotification, *ldap.ControlMicrosoftShowDeleted,
		*ldap.ControlMicrosoftServerLinkTTL, *ldap.ControlSubtreeDelete:
		projected.Value = ""
	}

	return projected
}
