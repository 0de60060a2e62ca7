// Package block implements the physical block reader for fp5 files: a
// fixed 14-byte header followed by a variable-length payload, per
// spec.md §4.2.
package block

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bgrewell/fp5kit/pkg/consts"
	"github.com/bgrewell/fp5kit/pkg/logging"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// FormatError reports a condition that makes the file unreadable as an
// fp5 database: a size that isn't block-aligned, a bad magic, or an
// unrecognized version string. It is always fatal to Open.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("fp5: format error: %s", e.Reason)
}

// Header is the fixed 14-byte block header described in spec.md §3.
type Header struct {
	Deleted   bool
	Level     uint8
	PrevID    uint32
	NextID    uint32
	SkipBytes uint16
	Length    uint16
}

// Reader performs positioned reads of fp5 blocks from an io.ReaderAt. It
// holds no state of its own beyond the underlying file handle and logger;
// chain reconstruction lives in package blockchain.
type Reader struct {
	r      io.ReaderAt
	size   int64
	logger logr.Logger
}

// NewReader validates the file's magic, version, and size alignment and
// returns a Reader positioned to read blocks from it.
func NewReader(r io.ReaderAt, size int64, logger logr.Logger) (*Reader, error) {
	if size <= 0 || size%consts.BlockSize != 0 {
		return nil, &FormatError{Reason: fmt.Sprintf("file size %d is not a positive multiple of 0x%X", size, consts.BlockSize)}
	}

	var head [consts.BlockSize * 2]byte
	// The header occupies the first two blocks; read generously but only
	// require what is actually present for very small (degenerate) files.
	n, err := r.ReadAt(head[:min64(int64(len(head)), size)], 0)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "fp5: reading file header")
	}
	head2 := head[:n]

	if len(head2) < len(consts.HeaderMagic) {
		return nil, &FormatError{Reason: "file too short to contain header magic"}
	}
	var magic [15]byte
	copy(magic[:], head2[:15])
	if magic != consts.HeaderMagic {
		return nil, &FormatError{Reason: "magic number mismatch"}
	}

	version, ok := extractVersion(head2)
	if !ok || (version != consts.VersionPro3 && version != consts.VersionPro5) {
		return nil, &FormatError{Reason: fmt.Sprintf("unrecognized version string %q", version)}
	}

	logger.V(logging.DEBUG).Info("opened fp5 file", "size", size, "version", version)

	return &Reader{r: r, size: size, logger: logger}, nil
}

// extractVersion looks for one of the accepted version strings ("Pro
// 5.0", then "Pro 3.0") anywhere in the first 64 bytes of the file header
// and returns the first one found. It does not read the length prefix
// that precedes the string.
func extractVersion(head []byte) (string, bool) {
	const versionSearchWindow = 64
	end := len(head)
	if end > versionSearchWindow {
		end = versionSearchWindow
	}
	for _, candidate := range []string{consts.VersionPro5, consts.VersionPro3} {
		idx := indexOf(head[:end], candidate)
		if idx >= 0 {
			return candidate, true
		}
	}
	return "", false
}

func indexOf(haystack []byte, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == needle {
			return i
		}
	}
	return -1
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Size returns the total file size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// ReadHeader reads and parses the 14-byte block header at the given file
// offset. The header is returned even when Deleted is true; callers must
// check Deleted themselves (spec.md §4.2).
func (r *Reader) ReadHeader(offset int64) (Header, error) {
	var buf [consts.BlockHeaderSize]byte
	n, err := r.r.ReadAt(buf[:], offset)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return Header{}, fmt.Errorf("fp5: reading block header at offset 0x%X: %w", offset, err)
	}

	h := Header{
		Deleted:   buf[0] == consts.DeletedFlag,
		Level:     buf[1],
		PrevID:    binary.BigEndian.Uint32(buf[2:6]),
		NextID:    binary.BigEndian.Uint32(buf[6:10]),
		SkipBytes: binary.BigEndian.Uint16(buf[10:12]),
		Length:    binary.BigEndian.Uint16(buf[12:14]),
	}

	if h.Length > consts.MaxPayloadLength {
		return h, fmt.Errorf("fp5: block at offset 0x%X declares payload length %d exceeding maximum %d", offset, h.Length, consts.MaxPayloadLength)
	}

	return h, nil
}

// ReadPayload reads the header's declared Length bytes of payload data,
// starting after the 14-byte header and, when skipPrefix is true,
// additionally skipping SkipBytes — the bytes that continue the tail of
// the predecessor block's last token (spec.md §4.2).
func (r *Reader) ReadPayload(offset int64, h Header, skipPrefix bool) ([]byte, error) {
	start := offset + consts.BlockHeaderSize
	if skipPrefix {
		start += int64(h.SkipBytes)
	}
	length := int(h.Length)
	if skipPrefix {
		length -= int(h.SkipBytes)
		if length < 0 {
			return nil, fmt.Errorf("fp5: block at offset 0x%X has skip_bytes %d exceeding length %d", offset, h.SkipBytes, h.Length)
		}
	}

	buf := make([]byte, length)
	if length > 0 {
		n, err := r.r.ReadAt(buf, start)
		if err != nil && !(err == io.EOF && n == length) {
			return nil, fmt.Errorf("fp5: reading payload at offset 0x%X: %w", start, err)
		}
	}
	return buf, nil
}
