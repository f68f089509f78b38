package llama

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const ggufMagic = 0x46554747 // "GGUF" little-endian

// GGUF metadata value types.
const (
	ggufUint8 uint32 = iota
	ggufInt8
	ggufUint16
	ggufInt16
	ggufUint32
	ggufInt32
	ggufFloat32
	ggufBool
	ggufString
	ggufArray
	ggufUint64
	ggufInt64
	ggufFloat64
)

// Limits on length prefixes, so a corrupt header fails instead of
// overflowing or allocating without bound.
const (
	maxStringLen = 1 << 24
	maxArrayLen  = 1 << 28
)

var errNotGGUF = errors.New("not a GGUF file")

// Metadata is what the server reports about the loaded artifact.
type Metadata struct {
	Version      uint32            `json:"gguf_version"`
	TensorCount  uint64            `json:"tensor_count"`
	Architecture string            `json:"architecture"`
	Name         string            `json:"name"`
	ContextSize  uint64            `json:"context_length,omitempty"`
	FileType     uint64            `json:"file_type,omitempty"`
	Strings      map[string]string `json:"-"`
}

// readMetadata parses the GGUF header and the scalar string/integer
// metadata entries. Array values are skipped.
func readMetadata(r io.Reader) (*Metadata, error) {
	br := bufio.NewReader(r)
	le := binary.LittleEndian

	var magic, version uint32
	if err := binary.Read(br, le, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != ggufMagic {
		return nil, errNotGGUF
	}
	if err := binary.Read(br, le, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("unsupported GGUF version %d", version)
	}

	var tensors, kvCount uint64
	if err := binary.Read(br, le, &tensors); err != nil {
		return nil, fmt.Errorf("read tensor count: %w", err)
	}
	if err := binary.Read(br, le, &kvCount); err != nil {
		return nil, fmt.Errorf("read metadata count: %w", err)
	}

	meta := &Metadata{Version: version, TensorCount: tensors, Strings: map[string]string{}}
	ints := map[string]uint64{}
	for i := uint64(0); i < kvCount; i++ {
		key, err := readString(br)
		if err != nil {
			return nil, fmt.Errorf("metadata key %d: %w", i, err)
		}
		var typ uint32
		if err := binary.Read(br, le, &typ); err != nil {
			return nil, fmt.Errorf("metadata %s type: %w", key, err)
		}
		switch typ {
		case ggufString:
			s, err := readString(br)
			if err != nil {
				return nil, fmt.Errorf("metadata %s: %w", key, err)
			}
			meta.Strings[key] = s
		case ggufUint32, ggufInt32:
			var v uint32
			if err := binary.Read(br, le, &v); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", key, err)
			}
			ints[key] = uint64(v)
		case ggufUint64, ggufInt64:
			var v uint64
			if err := binary.Read(br, le, &v); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", key, err)
			}
			ints[key] = v
		default:
			if err := skipValue(br, typ); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", key, err)
			}
		}
	}

	meta.Architecture = meta.Strings["general.architecture"]
	meta.Name = meta.Strings["general.name"]
	meta.FileType = ints["general.file_type"]
	if meta.Architecture != "" {
		meta.ContextSize = ints[meta.Architecture+".context_length"]
	}
	return meta, nil
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("string length %d too large", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func scalarSize(typ uint32) (int64, bool) {
	switch typ {
	case ggufUint8, ggufInt8, ggufBool:
		return 1, true
	case ggufUint16, ggufInt16:
		return 2, true
	case ggufUint32, ggufInt32, ggufFloat32:
		return 4, true
	case ggufUint64, ggufInt64, ggufFloat64:
		return 8, true
	}
	return 0, false
}

func skipValue(br *bufio.Reader, typ uint32) error {
	if size, ok := scalarSize(typ); ok {
		_, err := br.Discard(int(size))
		return err
	}
	switch typ {
	case ggufString:
		_, err := readString(br)
		return err
	case ggufArray:
		var elemType uint32
		var n uint64
		if err := binary.Read(br, binary.LittleEndian, &elemType); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return err
		}
		if n > maxArrayLen {
			return fmt.Errorf("array length %d too large", n)
		}
		if size, ok := scalarSize(elemType); ok {
			_, err := io.CopyN(io.Discard, br, size*int64(n))
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := skipValue(br, elemType); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown GGUF value type %d", typ)
}
