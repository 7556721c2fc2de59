package hosts

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cuemby/hostfix/pkg/types"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// Encoding names the character encoding a hosts file was read with
type Encoding string

const (
	EncodingUTF8      Encoding = "utf-8"
	EncodingUTF8BOM   Encoding = "utf-8-bom"
	EncodingUTF16LE   Encoding = "utf-16le"
	EncodingUTF16BE   Encoding = "utf-16be"
	EncodingGBK       Encoding = "gbk"
	EncodingUTF8Lossy Encoding = "utf-8-lossy"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode detects the encoding of raw and returns its text. Candidates are
// tried in order: UTF-8 (with or without BOM), UTF-16 with BOM, GBK. When
// none round-trips, invalid bytes are replaced and the content is treated
// as UTF-8 from then on.
func Decode(raw []byte) (string, Encoding) {
	if bytes.HasPrefix(raw, bomUTF8) && utf8.Valid(raw[len(bomUTF8):]) {
		return string(raw[len(bomUTF8):]), EncodingUTF8BOM
	}

	if bytes.HasPrefix(raw, bomUTF16LE) {
		if text, ok := roundTrip(raw, utf16Codec(EncodingUTF16LE)); ok {
			return text, EncodingUTF16LE
		}
	}
	if bytes.HasPrefix(raw, bomUTF16BE) {
		if text, ok := roundTrip(raw, utf16Codec(EncodingUTF16BE)); ok {
			return text, EncodingUTF16BE
		}
	}

	if utf8.Valid(raw) {
		return string(raw), EncodingUTF8
	}

	if text, ok := roundTrip(raw, simplifiedchinese.GBK); ok {
		return text, EncodingGBK
	}

	return strings.ToValidUTF8(string(raw), "\uFFFD"), EncodingUTF8Lossy
}

// Encode converts text back into enc. Characters enc cannot represent
// fail with types.ErrEncoding.
func Encode(text string, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingUTF8, EncodingUTF8Lossy, "":
		return []byte(text), nil
	case EncodingUTF8BOM:
		return append(append([]byte(nil), bomUTF8...), text...), nil
	}

	var codec encoding.Encoding
	switch enc {
	case EncodingUTF16LE, EncodingUTF16BE:
		codec = utf16Codec(enc)
	case EncodingGBK:
		codec = simplifiedchinese.GBK
	default:
		return nil, fmt.Errorf("unknown encoding %q: %w", enc, types.ErrEncoding)
	}

	out, err := codec.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode as %s: %w: %v", enc, types.ErrEncoding, err)
	}
	return out, nil
}

func utf16Codec(enc Encoding) encoding.Encoding {
	if enc == EncodingUTF16BE {
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	}
	return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
}

// roundTrip decodes raw with codec and accepts it only if re-encoding
// reproduces the original bytes
func roundTrip(raw []byte, codec encoding.Encoding) (string, bool) {
	decoded, err := codec.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	encoded, err := codec.NewEncoder().Bytes(decoded)
	if err != nil || !bytes.Equal(encoded, raw) {
		return "", false
	}
	return string(decoded), true
}
