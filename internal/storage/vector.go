package storage

import (
	"encoding/binary"
	"math"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// dialect holds the differences between the SQL backends.
type dialect struct {
	name   string
	driver string
	rebind func(string) string

	// vectorType is the column type used for embeddings.
	vectorType string

	// preamble runs before the first migration.
	preamble []string

	vectorArg  func([]float32) any
	vectorDest func() (dest any, decode func() ([]float32, error))
}

var sqliteDialect = &dialect{
	name:       "sqlite",
	driver:     "sqlite",
	rebind:     func(q string) string { return q },
	vectorType: "BLOB",
	vectorArg:  func(v []float32) any { return float32sToBlob(v) },
	vectorDest: func() (any, func() ([]float32, error)) {
		var blob []byte
		return &blob, func() ([]float32, error) { return blobToFloat32s(blob) }
	},
}

var postgresDialect = &dialect{
	name:       "postgres",
	driver:     "postgres",
	rebind:     rebind,
	vectorType: "vector",
	preamble:   []string{"CREATE EXTENSION IF NOT EXISTS vector"},
	vectorArg:  func(v []float32) any { return pgvector.NewVector(v) },
	vectorDest: func() (any, func() ([]float32, error)) {
		var vec pgvector.Vector
		return &vec, func() ([]float32, error) { return vec.Slice(), nil }
	},
}

// float32sToBlob encodes a vector as little-endian float32s.
func float32sToBlob(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func blobToFloat32s(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid vector blob length %d", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v, nil
}
