// Package fingerprint computes the stable content hash used to detect
// product changes and to derive outbox dedupe keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bling0390/vivbliss-sync/errs"
)

// Price is the canonical price shape: an amount string plus currency code.
// Amounts are kept as strings end-to-end so formatting never drifts between
// the extractor, the catalog, and the fingerprint.
type Price struct {
	Amount   string
	Currency string
}

// MediaRef is the subset of a media descriptor that contributes to the
// fingerprint: type and source URL, in declaration order.
type MediaRef struct {
	MediaType string
	SourceURL string
}

// Snapshot is the fingerprint input: a product's semantic fields plus its
// media references, with `raw` and any local filesystem paths excluded.
type Snapshot struct {
	ProductKey string
	URL        string
	Title      *string
	Price      *Price
	Media      []MediaRef
}

// Validate rejects a snapshot that cannot be fingerprinted: a missing
// product key, or a price whose amount does not parse as a decimal.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.ProductKey) == "" {
		return errs.New("fingerprint.validate", errs.CodeLogic, errs.WithMessage("product_key must not be empty"))
	}
	if s.Price != nil {
		if _, err := decimal.NewFromString(s.Price.Amount); err != nil {
			return errs.New("fingerprint.validate", errs.CodeLogic,
				errs.WithMessage("price amount is not a valid decimal"), errs.WithCause(err))
		}
	}
	return nil
}

// Compute returns the lowercase hex SHA-256 digest of the snapshot's
// canonical form: excluded fields are never present in the payload, map
// keys are sorted recursively, and strings are ASCII-escaped so the same
// logical input always yields the same digest across processes, restarts,
// and implementations in other languages.
func Compute(s Snapshot) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	payload := canonicalPayload(s)
	encoded, err := canonicalize(payload)
	if err != nil {
		return "", errs.New("fingerprint.compute", errs.CodeLogic, errs.WithCause(err))
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// BuildDedupeKey derives the globally-unique outbox/receipt key from the
// tuple that identifies a single semantic change notification.
func BuildDedupeKey(productKey string, version int, eventType string) string {
	seed := fmt.Sprintf("%s:%d:%s", productKey, version, eventType)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func canonicalPayload(s Snapshot) map[string]any {
	payload := map[string]any{
		"product_key": s.ProductKey,
		"url":         s.URL,
		"title":       titleValue(s.Title),
		"price":       priceValue(s.Price),
		"media":       mediaValue(s.Media),
	}
	return payload
}

func titleValue(title *string) any {
	if title == nil {
		return nil
	}
	return *title
}

func priceValue(price *Price) any {
	if price == nil {
		return nil
	}
	return map[string]any{
		"amount":   price.Amount,
		"currency": price.Currency,
	}
}

func mediaValue(media []MediaRef) []any {
	out := make([]any, 0, len(media))
	for _, m := range media {
		out = append(out, map[string]any{
			"media_type": m.MediaType,
			"source_url": m.SourceURL,
		})
	}
	return out
}

// canonicalize renders v as deterministic JSON text: object keys are
// sorted lexicographically at every level, arrays preserve caller order,
// and every rune outside the printable ASCII range is escaped as \uXXXX
// (except newline, carriage return and tab, which use \n, \r and \t),
// independent of Go's own map-iteration and JSON-marshaling defaults.
// Any process that follows the same rules reproduces the same digest.
func canonicalize(v any) ([]byte, error) {
	var buf strings.Builder
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func encodeValue(buf *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeString(buf, val)
	case int:
		fmt.Fprintf(buf, "%d", val)
	case int64:
		fmt.Fprintf(buf, "%d", val)
	case map[string]any:
		return encodeObject(buf, val)
	case []any:
		return encodeArray(buf, val)
	default:
		return fmt.Errorf("fingerprint: unsupported value type %T", v)
	}
	return nil
}

func encodeObject(buf *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *strings.Builder, arr []any) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *strings.Builder, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			switch {
			case r < 0x20:
				writeEscapedUnit(buf, uint16(r))
			case r < 0x7f:
				buf.WriteRune(r)
			case r <= 0xffff:
				writeEscapedUnit(buf, uint16(r))
			default:
				// Encode as a UTF-16 surrogate pair, matching JSON's
				// \uXXXX escape contract for non-BMP code points.
				r -= 0x10000
				hi := uint16(0xd800 + (r >> 10))
				lo := uint16(0xdc00 + (r & 0x3ff))
				writeEscapedUnit(buf, hi)
				writeEscapedUnit(buf, lo)
			}
		}
	}
	buf.WriteByte('"')
}

func writeEscapedUnit(buf *strings.Builder, unit uint16) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(unit>>12)&0xf])
	buf.WriteByte(hexDigits[(unit>>8)&0xf])
	buf.WriteByte(hexDigits[(unit>>4)&0xf])
	buf.WriteByte(hexDigits[unit&0xf])
}
