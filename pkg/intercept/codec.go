package intercept

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Combine-Capital/cqcache/pkg/errors"
)

// Stored entries carry a one-byte marker before the payload so a cached nil
// (a known-empty result) is distinguishable from both a cache miss and a
// cached zero value.
const (
	markerNull  byte = 0x00
	markerValue byte = 0x01
)

// EncodeEntry serializes a value for storage. A nil value becomes the
// one-byte known-empty marker; anything else is msgpack-encoded behind a
// value marker. Encoding failures are permanent: retrying cannot fix an
// unserializable type.
func EncodeEntry(v any) ([]byte, error) {
	if v == nil {
		return []byte{markerNull}, nil
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.NewPermanent("failed to encode cache entry", err)
	}
	buf := make([]byte, 1+len(data))
	buf[0] = markerValue
	copy(buf[1:], data)
	return buf, nil
}

// DecodeEntry deserializes a stored entry into dest, which must be a
// non-nil pointer. The boolean reports whether the entry held a value;
// false means a known-empty entry and dest is left untouched. A corrupt
// entry is a permanent error.
func DecodeEntry(data []byte, dest any) (bool, error) {
	if len(data) == 0 {
		return false, errors.NewPermanent("cache entry is empty", nil)
	}
	switch data[0] {
	case markerNull:
		return false, nil
	case markerValue:
		if err := msgpack.Unmarshal(data[1:], dest); err != nil {
			return false, errors.NewPermanent("failed to decode cache entry", err)
		}
		return true, nil
	default:
		return false, errors.NewPermanent("cache entry has an unknown marker", nil)
	}
}
