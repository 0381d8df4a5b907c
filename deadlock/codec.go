package deadlock

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mtmcore/mtmcore/encoding"
)

// EncodeContribution msgpack-encodes then zstd-compresses c. Wait-for
// graphs are mostly repeated small integers and GID prefixes, which
// compress well even at the default level.
func EncodeContribution(c Contribution) ([]byte, error) {
	raw, err := encoding.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("deadlock: marshal contribution: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("deadlock: new zstd writer: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(raw, nil), nil
}

// DecodeContribution reverses EncodeContribution.
func DecodeContribution(data []byte) (Contribution, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return Contribution{}, fmt.Errorf("deadlock: new zstd reader: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return Contribution{}, fmt.Errorf("deadlock: zstd decompress: %w", err)
	}

	var c Contribution
	if err := encoding.Unmarshal(raw, &c); err != nil {
		return Contribution{}, fmt.Errorf("deadlock: unmarshal contribution: %w", err)
	}
	return c, nil
}
