package gateway

import (
	"encoding/base64"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/go-objectsid"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/isometry/ldap2json/internal/ldap"
)

// guidBytesLength is the size of a binary objectGUID value.
const guidBytesLength = 16

// indentStep is the indentation of result documents.
const indentStep = 2

var json = jsoniter.Config{
	IndentionStep: indentStep,
	EscapeHTML:    false,
}.Froze()

// EncodeRecords renders records as a JSON array of [dn, attributes] pairs,
// indented by two spaces, in the order the directory returned them.
// Attributes are written in name order.
func EncodeRecords(records []*ldap.Record) ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	if len(records) == 0 {
		stream.WriteEmptyArray()
	} else {
		stream.WriteArrayStart()
		for i, record := range records {
			if i > 0 {
				stream.WriteMore()
			}
			writeRecord(stream, record)
		}
		stream.WriteArrayEnd()
	}

	if stream.Error != nil {
		return nil, fmt.Errorf("failed to encode search result: %w", stream.Error)
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

func writeRecord(stream *jsoniter.Stream, record *ldap.Record) {
	stream.WriteArrayStart()
	stream.WriteString(record.DN)
	stream.WriteMore()

	if len(record.Attributes) == 0 {
		stream.WriteEmptyObject()
	} else {
		stream.WriteObjectStart()
		for i, name := range slices.Sorted(maps.Keys(record.Attributes)) {
			if i > 0 {
				stream.WriteMore()
			}
			stream.WriteObjectField(name)
			writeValues(stream, renderValues(name, record.Attributes[name]))
		}
		stream.WriteObjectEnd()
	}

	stream.WriteArrayEnd()
}

func writeValues(stream *jsoniter.Stream, values []string) {
	if len(values) == 0 {
		stream.WriteEmptyArray()
		return
	}

	stream.WriteArrayStart()
	for i, value := range values {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteString(value)
	}
	stream.WriteArrayEnd()
}

// renderValues makes attribute values printable. Active Directory's binary
// identifiers are shown in their usual string forms; any other value that is
// not valid UTF-8 is base64 encoded.
func renderValues(name string, values []string) []string {
	out := make([]string, len(values))
	for i, value := range values {
		switch {
		case strings.EqualFold(name, "objectGUID") && len(value) == guidBytesLength:
			out[i] = guidBytesToString([]byte(value))
		case strings.EqualFold(name, "objectSid") && isBinarySID(value):
			out[i] = objectsid.Decode([]byte(value)).String()
		case utf8.ValidString(value):
			out[i] = value
		default:
			out[i] = base64.StdEncoding.EncodeToString([]byte(value))
		}
	}
	return out
}

// isBinarySID reports whether value has the layout of a binary SID: revision
// 1, a sub-authority count, a 6-byte authority and that many 4-byte
// sub-authorities.
func isBinarySID(value string) bool {
	return len(value) >= 8 && value[0] == 1 && len(value) == 8+4*int(value[1])
}

// guidBytesToString converts Active Directory's mixed-endian GUID bytes to
// the standard hyphenated form: the first three groups are little-endian.
func guidBytesToString(b []byte) string {
	var std uuid.UUID
	std[0], std[1], std[2], std[3] = b[3], b[2], b[1], b[0]
	std[4], std[5] = b[5], b[4]
	std[6], std[7] = b[7], b[6]
	copy(std[8:], b[8:])
	return std.String()
}
