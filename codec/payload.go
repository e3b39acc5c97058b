package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/Boavizta/e-footprint-sub000/cas"
	"github.com/Boavizta/e-footprint-sub000/value"
)

// DefaultCompressThreshold is the series length above which magnitudes are
// compressed when Options.CompressThreshold is zero.
const DefaultCompressThreshold = 48

// Payload type tags.
const (
	TypeEmpty  = "empty"
	TypeScalar = "scalar"
	TypeHourly = "hourly"
	TypeWeekly = "weekly"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	decoder, _ = zstd.NewReader(nil)
)

// EncodeValue builds the payload of v. Series longer than threshold are
// compressed; a negative threshold disables compression.
func EncodeValue(v value.Value, threshold int) Payload {
	switch x := v.(type) {
	case value.Scalar:
		m := x.Magnitude
		return Payload{Type: TypeScalar, Unit: string(x.U), Magnitude: &m}
	case value.Hourly:
		start := x.Start.UTC()
		p := Payload{Type: TypeHourly, Unit: string(x.U), Start: &start}
		packSeries(&p, x.Magnitudes, threshold)
		return p
	case value.Weekly:
		p := Payload{Type: TypeWeekly, Unit: string(x.U)}
		packSeries(&p, x.Magnitudes[:], threshold)
		return p
	default:
		return Payload{Type: TypeEmpty}
	}
}

func packSeries(p *Payload, mags []float64, threshold int) {
	p.Count = len(mags)
	if threshold < 0 || len(mags) <= threshold {
		p.Values = append([]float64{}, mags...)
		return
	}
	packed := pack(mags)
	p.Compressed = encoder.EncodeAll(packed, make([]byte, 0, len(packed)/4))
	p.Digest = cas.Blake3HashHex(packed)
}

// DecodeValue rebuilds the value held by a payload.
func DecodeValue(p Payload) (value.Value, error) {
	switch p.Type {
	case TypeEmpty, "":
		return value.Empty{}, nil
	case TypeScalar:
		if p.Magnitude == nil {
			return nil, fmt.Errorf("scalar without magnitude: %w", ErrCorrupt)
		}
		return value.NewScalar(*p.Magnitude, value.Unit(p.Unit))
	case TypeHourly:
		if p.Start == nil {
			return nil, fmt.Errorf("hourly series without start: %w", ErrCorrupt)
		}
		mags, err := unpackSeries(p)
		if err != nil {
			return nil, err
		}
		return value.NewHourly(p.Start.UTC(), mags, value.Unit(p.Unit))
	case TypeWeekly:
		mags, err := unpackSeries(p)
		if err != nil {
			return nil, err
		}
		return value.NewWeekly(mags, value.Unit(p.Unit))
	default:
		return nil, fmt.Errorf("payload type %q: %w", p.Type, ErrCorrupt)
	}
}

func unpackSeries(p Payload) ([]float64, error) {
	if p.Compressed == nil {
		if p.Count != 0 && p.Count != len(p.Values) {
			return nil, fmt.Errorf("series declares %d values, has %d: %w", p.Count, len(p.Values), ErrCorrupt)
		}
		if p.Values == nil {
			return []float64{}, nil
		}
		return append([]float64{}, p.Values...), nil
	}
	packed, err := decoder.DecodeAll(p.Compressed, make([]byte, 0, p.Count*8))
	if err != nil {
		return nil, fmt.Errorf("decompressing series: %w: %w", ErrCorrupt, err)
	}
	if len(packed) != p.Count*8 {
		return nil, fmt.Errorf("series declares %d values, has %d bytes: %w", p.Count, len(packed), ErrCorrupt)
	}
	if p.Digest != "" && cas.Blake3HashHex(packed) != p.Digest {
		return nil, fmt.Errorf("series digest mismatch: %w", ErrCorrupt)
	}
	return unpack(packed), nil
}

func pack(mags []float64) []byte {
	buf := make([]byte, 8*len(mags))
	for i, f := range mags {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func unpack(buf []byte) []float64 {
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out
}

// rewritePayload passes the value of p through f and re-encodes it,
// compressed only if p was.
func rewritePayload(p Payload, f func(value.Value) (value.Value, error)) (Payload, error) {
	v, err := DecodeValue(p)
	if err != nil {
		return p, err
	}
	v, err = f(v)
	if err != nil {
		return p, err
	}
	threshold := -1
	if p.Compressed != nil {
		threshold = 0
	}
	return EncodeValue(v, threshold), nil
}
