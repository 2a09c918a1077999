package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry(dn string, attrs ...*ldap.EntryAttribute) *ldap.Entry {
	return &ldap.Entry{DN: dn, Attributes: attrs}
}

func stringAttr(name string, values ...string) *ldap.EntryAttribute {
	byteValues := make([][]byte, 0, len(values))
	for _, v := range values {
		byteValues = append(byteValues, []byte(v))
	}
	return &ldap.EntryAttribute{Name: name, Values: values, ByteValues: byteValues}
}

func binaryAttr(name string, values ...[]byte) *ldap.EntryAttribute {
	stringValues := make([]string, 0, len(values))
	for _, v := range values {
		stringValues = append(stringValues, string(v))
	}
	return &ldap.EntryAttribute{Name: name, Values: stringValues, ByteValues: values}
}

func TestEntryDecoder_Decode(t *testing.T) {
	guid := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	photo := []byte{0xff, 0xd8, 0xff, 0xe0}

	tests := []struct {
		name     string
		entry    *ldap.Entry
		expected Profile
	}{
		{
			name:  "no attributes",
			entry: newTestEntry("uid=empty,dc=example,dc=com"),
			expected: Profile{
				"dn":       "uid=empty,dc=example,dc=com",
				"controls": []ControlValue{},
			},
		},
		{
			name: "single value collapses to scalar",
			entry: newTestEntry("uid=a,dc=x",
				stringAttr("uid", "a"),
			),
			expected: Profile{
				"dn":       "uid=a,dc=x",
				"uid":      "a",
				"controls": []ControlValue{},
			},
		},
		{
			name: "multiple values stay a list in order",
			entry: newTestEntry("uid=a,dc=x",
				stringAttr("mail", "a@x", "b@x"),
			),
			expected: Profile{
				"dn":       "uid=a,dc=x",
				"mail":     []string{"a@x", "b@x"},
				"controls": []ControlValue{},
			},
		},
		{
			name: "attribute without values is an empty list",
			entry: newTestEntry("uid=a,dc=x",
				stringAttr("description"),
			),
			expected: Profile{
				"dn":          "uid=a,dc=x",
				"description": []string{},
				"controls":    []ControlValue{},
			},
		},
		{
			name: "objectGUID is formatted",
			entry: newTestEntry("CN=Alice,DC=example,DC=com",
				binaryAttr("objectGUID", guid),
			),
			expected: Profile{
				"dn":         "CN=Alice,DC=example,DC=com",
				"objectGUID": "04030201-0605-0807-090a-0b0c0d0e0f10",
				"controls":   []ControlValue{},
			},
		},
		{
			name: "objectGUID uses only the first value",
			entry: newTestEntry("CN=Alice,DC=example,DC=com",
				binaryAttr("objectGUID", guid, make([]byte, 16)),
			),
			expected: Profile{
				"dn":         "CN=Alice,DC=example,DC=com",
				"objectGUID": "04030201-0605-0807-090a-0b0c0d0e0f10",
				"controls":   []ControlValue{},
			},
		},
		{
			name: "objectGUID of unexpected length is hex",
			entry: newTestEntry("CN=Alice,DC=example,DC=com",
				binaryAttr("objectGUID", []byte{0xab, 0xcd}),
			),
			expected: Profile{
				"dn":         "CN=Alice,DC=example,DC=com",
				"objectGUID": "abcd",
				"controls":   []ControlValue{},
			},
		},
		{
			name: "photo stays raw bytes",
			entry: newTestEntry("CN=Alice,DC=example,DC=com",
				binaryAttr("thumbnailPhoto", photo),
			),
			expected: Profile{
				"dn":             "CN=Alice,DC=example,DC=com",
				"thumbnailPhoto": photo,
				"controls":       []ControlValue{},
			},
		},
		{
			name: "strategy lookup ignores case",
			entry: newTestEntry("CN=Alice,DC=example,DC=com",
				binaryAttr("JPEGPHOTO", photo, photo),
			),
			expected: Profile{
				"dn":        "CN=Alice,DC=example,DC=com",
				"JPEGPHOTO": [][]byte{photo, photo},
				"controls":  []ControlValue{},
			},
		},
		{
			name: "objectSid is a plain string by default",
			entry: newTestEntry("CN=Alice,DC=example,DC=com",
				binaryAttr("objectSid", []byte{0x01, 0x00}),
			),
			expected: Profile{
				"dn":        "CN=Alice,DC=example,DC=com",
				"objectSid": "\x01\x00",
				"controls":  []ControlValue{},
			},
		},
	}

	decoder := NewEntryDecoder()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := decoder.Decode(tt.entry, nil)
			assert.Equal(t, tt.expected, profile)
		})
	}
}

func TestEntryDecoder_DNOverridesAttribute(t *testing.T) {
	decoder := NewEntryDecoder()

	profile := decoder.Decode(newTestEntry("uid=real,dc=x", stringAttr("dn", "uid=spoofed,dc=x")), nil)

	assert.Equal(t, "uid=real,dc=x", profile.DN())
}

func TestEntryDecoder_Controls(t *testing.T) {
	decoder := NewEntryDecoder()

	controls := []ldap.Control{
		ldap.NewControlString("1.2.840.113556.1.4.319", true, "cookie"),
		ldap.NewControlManageDsaIT(false),
	}

	profile := decoder.Decode(newTestEntry("uid=a,dc=x"), controls)

	assert.Equal(t, []ControlValue{
		{Type: "1.2.840.113556.1.4.319", Criticality: true, Value: "cookie"},
		{Type: ldap.ControlTypeManageDsaIT, Criticality: false},
	}, profile.Controls())
}

func TestProjectControl(t *testing.T) {
	tests := []struct {
		name    string
		control ldap.Control
		want    ControlValue
	}{
		{
			name:    "paging cookie as hex",
			control: &ldap.ControlPaging{PagingSize: 100, Cookie: []byte{0xde, 0xad}},
			want:    ControlValue{Type: ldap.ControlTypePaging, Value: "dead"},
		},
		{
			name:    "dirsync keeps criticality",
			control: &ldap.ControlDirSync{Criticality: true, Cookie: []byte{0x01}},
			want:    ControlValue{Type: ldap.ControlTypeDirSync, Criticality: true, Value: "01"},
		},
		{
			name:    "sort result code",
			control: &ldap.ControlServerSideSortingResult{Criticality: true, Result: ldap.ControlServerSideSortingCodeBusy},
			want:    ControlValue{Type: ldap.ControlTypeServerSideSortingResult, Criticality: true, Value: "51"},
		},
		{
			name:    "security descriptor flags",
			control: &ldap.ControlMicrosoftSDFlags{Criticality: true, ControlValue: 4},
			want:    ControlValue{Type: ldap.ControlTypeMicrosoftSDFlags, Criticality: true, Value: "4"},
		},
		{
			name:    "password must change",
			control: &ldap.ControlVChuPasswordMustChange{MustChange: true},
			want:    ControlValue{Type: ldap.ControlTypeVChuPasswordMustChange, Value: "true"},
		},
		{
			name:    "password expiry warning",
			control: &ldap.ControlVChuPasswordWarning{Expire: 3600},
			want:    ControlValue{Type: ldap.ControlTypeVChuPasswordWarning, Value: "3600"},
		},
		{
			name:    "marker control has no value",
			control: ldap.NewControlMicrosoftShowDeleted(),
			want:    ControlValue{Type: ldap.ControlTypeMicrosoftShowDeleted},
		},
		{
			name:    "sync done cookie",
			control: &ldap.ControlSyncDone{Criticality: true, Cookie: []byte{0xff}},
			want:    ControlValue{Type: ldap.ControlTypeSyncDone, Criticality: true, Value: "ff"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, projectControl(tt.control))
		})
	}
}

func TestProjectControl_PasswordPolicyFallsBackToString(t *testing.T) {
	control := &ldap.ControlBeheraPasswordPolicy{Expire: -1, Grace: 2, Error: -1}

	got := projectControl(control)

	assert.Equal(t, ldap.ControlTypeBeheraPasswordPolicy, got.Type)
	assert.False(t, got.Criticality)
	assert.Contains(t, got.Value, "Grace: 2")
}

func TestEntryDecoder_SIDFormatting(t *testing.T) {
	decoder := NewEntryDecoder(WithSIDFormatting())

	// S-1-5-21-1-2-3-500
	sid := []byte{
		0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
		0xf4, 0x01, 0x00, 0x00,
	}

	profile := decoder.Decode(newTestEntry("CN=Alice,DC=example,DC=com",
		binaryAttr("objectSid", sid),
	), nil)

	assert.Equal(t, "S-1-5-21-1-2-3-500", profile["objectSid"])

	// Malformed values are kept as hex rather than dropped.
	profile = decoder.Decode(newTestEntry("CN=Alice,DC=example,DC=com",
		binaryAttr("objectSid", []byte{0x01, 0x02}),
	), nil)

	assert.Equal(t, "0102", profile["objectSid"])
}

func TestEntryDecoder_DoesNotAliasEntry(t *testing.T) {
	decoder := NewEntryDecoder()
	entry := newTestEntry("uid=a,dc=x", stringAttr("mail", "a@x", "b@x"))

	profile := decoder.Decode(entry, nil)
	entry.Attributes[0].Values[0] = "changed"

	assert.Equal(t, []string{"a@x", "b@x"}, profile["mail"])
}

func TestProfile_Accessors(t *testing.T) {
	decoder := NewEntryDecoder()

	profile := decoder.Decode(newTestEntry("uid=a,dc=x",
		stringAttr("displayName", "Alice"),
		stringAttr("mail", "a@x", "b@x"),
	), nil)

	v, ok := profile.Lookup("displayname")
	require.True(t, ok)
	assert.Equal(t, "Alice", v)

	assert.Equal(t, "Alice", profile.First("displayName"))
	assert.Equal(t, []string{"a@x", "b@x"}, profile.Strings("MAIL"))
	assert.Equal(t, "a@x", profile.First("mail"))
	assert.Empty(t, profile.First("missing"))
	assert.Nil(t, profile.Strings("missing"))
	assert.Empty(t, profile.Controls())
}
