package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap2json/internal/ldap"
)

func TestEncodeRecords(t *testing.T) {
	records := []*ldap.Record{
		{
			DN: "cn=b,dc=example,dc=com",
			Attributes: map[string][]string{
				"sn": {"B"},
				"cn": {"b", "bee"},
			},
		},
		{
			DN:         "cn=a,dc=example,dc=com",
			Attributes: map[string][]string{},
		},
	}

	got, err := EncodeRecords(records)
	require.NoError(t, err)

	want := `[
  [
    "cn=b,dc=example,dc=com",
    {
      "cn": [
        "b",
        "bee"
      ],
      "sn": [
        "B"
      ]
    }
  ],
  [
    "cn=a,dc=example,dc=com",
    {}
  ]
]`
	assert.Equal(t, want, string(got))
}

func TestEncodeRecords_Empty(t *testing.T) {
	got, err := EncodeRecords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))
}

func TestEncodeRecords_Escaping(t *testing.T) {
	got, err := EncodeRecords([]*ldap.Record{
		{DN: `cn=a\"b,dc=x`, Attributes: map[string][]string{"description": {"<b>&</b>"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(got), `"cn=a\\\"b,dc=x"`)
	assert.Contains(t, string(got), `"<b>&</b>"`)
}

func TestRenderValues(t *testing.T) {
	guid := string([]byte{
		0x78, 0x56, 0x34, 0x12,
		0x34, 0x12,
		0x78, 0x56,
		0x90, 0xab, 0xcd, 0xef, 0x12, 0x34, 0x56, 0x78,
	})
	// S-1-5-21-1-2-3-500
	sid := string([]byte{
		0x01, 0x05,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
		0xf4, 0x01, 0x00, 0x00,
	})

	tests := []struct {
		name   string
		attr   string
		values []string
		want   []string
	}{
		{
			name:   "text passes through",
			attr:   "cn",
			values: []string{"Alice", "Ålice"},
			want:   []string{"Alice", "Ålice"},
		},
		{
			name:   "object guid",
			attr:   "objectGUID",
			values: []string{guid},
			want:   []string{"12345678-1234-5678-90ab-cdef12345678"},
		},
		{
			name:   "object guid attribute name case",
			attr:   "objectguid",
			values: []string{guid},
			want:   []string{"12345678-1234-5678-90ab-cdef12345678"},
		},
		{
			name:   "object sid",
			attr:   "objectSid",
			values: []string{sid},
			want:   []string{"S-1-5-21-1-2-3-500"},
		},
		{
			name:   "textual sid passes through",
			attr:   "objectSid",
			values: []string{"S-1-5-21-1-2-3-500"},
			want:   []string{"S-1-5-21-1-2-3-500"},
		},
		{
			name:   "other binary is base64",
			attr:   "jpegPhoto",
			values: []string{string([]byte{0xff, 0xd8, 0xff, 0xe0})},
			want:   []string{"/9j/4A=="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderValues(tt.attr, tt.values))
		})
	}
}
