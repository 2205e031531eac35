package codec

import (
	"encoding/binary"
	"math"
)

// The codec never allocates on the hot path: every Put* writes into a
// caller-supplied slice and every Get* reads from one in place.

func PutInt32(dst []byte, v int32)  { binary.LittleEndian.PutUint32(dst, uint32(v)) }
func GetInt32(src []byte) int32     { return int32(binary.LittleEndian.Uint32(src)) }

func PutInt64(dst []byte, v int64)  { binary.LittleEndian.PutUint64(dst, uint64(v)) }
func GetInt64(src []byte) int64     { return int64(binary.LittleEndian.Uint64(src)) }

func PutFloat64(dst []byte, v float64) { binary.LittleEndian.PutUint64(dst, math.Float64bits(v)) }
func GetFloat64(src []byte) float64    { return math.Float64frombits(binary.LittleEndian.Uint64(src)) }

func PutBool(dst []byte, v bool) {
	if v {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
}

func GetBool(src []byte) bool { return src[0] != 0 }
