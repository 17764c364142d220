package yarv

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("yarv: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalIseq serializes an Iseq to canonical CBOR.
func MarshalIseq(iseq *Iseq) ([]byte, error) {
	return cborEncMode.Marshal(iseq)
}

// UnmarshalIseq deserializes an Iseq from CBOR and checks that every
// instruction decodes.
func UnmarshalIseq(data []byte) (*Iseq, error) {
	var iseq Iseq
	if err := cbor.Unmarshal(data, &iseq); err != nil {
		return nil, fmt.Errorf("yarv: unmarshal iseq: %w", err)
	}
	if err := Validate(&iseq); err != nil {
		return nil, err
	}
	return &iseq, nil
}

// Validate checks that the code decodes into whole instructions and that
// table handles are in range. It does not check stack discipline.
func Validate(iseq *Iseq) error {
	for off := 0; off < len(iseq.Code); {
		op := Opcode(iseq.Code[off])
		if !op.Valid() {
			return fmt.Errorf("yarv: %s: unknown opcode %d at %04d", iseq.Name(), uint64(op), off)
		}
		info := op.Info()
		if off+info.Len() > len(iseq.Code) {
			return fmt.Errorf("yarv: %s: truncated %s at %04d", iseq.Name(), info.Name, off)
		}
		for j, t := range info.Operands {
			arg := iseq.Code[off+1+j]
			switch t {
			case TSCallInfo:
				if arg >= uint64(len(iseq.CallInfos)) {
					return fmt.Errorf("yarv: %s: call info %d out of range at %04d", iseq.Name(), arg, off)
				}
			case TSCDHash:
				if arg >= uint64(len(iseq.CaseHashes)) {
					return fmt.Errorf("yarv: %s: case hash %d out of range at %04d", iseq.Name(), arg, off)
				}
			}
		}
		off += info.Len()
	}
	return nil
}
