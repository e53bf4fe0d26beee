package manifest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dashprobe/internal/media"
)

// PSSHBox is the header of a Protection System Specific Header box. The
// system-specific data itself is opaque and only its size is reported.
type PSSHBox struct {
	Version  uint8        `json:"version"`
	SystemID uuid.UUID    `json:"system_id"`
	System   media.System `json:"system"`
	KeyIDs   []string     `json:"key_ids,omitempty"` // v1 boxes only
	DataSize int          `json:"data_size"`
}

// box header: size(4) type(4) version(1) flags(3) systemID(16)
const psshHeaderSize = 28

// ParsePSSH decodes a base64 PSSH box as found in a cenc:pssh element.
func ParsePSSH(payload string) (*PSSHBox, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("decoding PSSH base64: %w", err)
	}
	if len(raw) < psshHeaderSize+4 {
		return nil, fmt.Errorf("PSSH box too short: %d bytes", len(raw))
	}
	if size := binary.BigEndian.Uint32(raw[0:4]); int(size) != len(raw) {
		return nil, fmt.Errorf("PSSH box size %d does not match payload length %d", size, len(raw))
	}
	if string(raw[4:8]) != "pssh" {
		return nil, fmt.Errorf("not a PSSH box: type %q", raw[4:8])
	}

	box := &PSSHBox{Version: raw[8]}
	copy(box.SystemID[:], raw[12:28])
	box.System = SystemForID(box.SystemID)

	off := psshHeaderSize
	if box.Version > 0 {
		count := int(binary.BigEndian.Uint32(raw[off : off+4]))
		off += 4
		if count < 0 || count > (len(raw)-off)/16 {
			return nil, fmt.Errorf("PSSH box declares %d key IDs, payload too short", count)
		}
		for i := 0; i < count; i++ {
			box.KeyIDs = append(box.KeyIDs, hex.EncodeToString(raw[off:off+16]))
			off += 16
		}
	}

	if len(raw)-off < 4 {
		return nil, fmt.Errorf("PSSH box truncated before data size")
	}
	box.DataSize = int(binary.BigEndian.Uint32(raw[off : off+4]))
	off += 4
	if box.DataSize > len(raw)-off {
		return nil, fmt.Errorf("PSSH data size %d exceeds remaining %d bytes", box.DataSize, len(raw)-off)
	}

	return box, nil
}
