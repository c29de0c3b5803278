package channeldb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/kkdai/bstream"
)

// Record layout mirrors the length-prefixed binary.Write/Read style used
// throughout the corpus for compact fixed-field structs: every variable
// length byte slice is preceded by its own length, every fixed field is
// written in place, no TLV framing (that's reserved for payloads that get
// signed or hashed, not for on-disk storage).
//
// The leading flags byte packs Mode (2 bits) and Status (1 bit) together;
// it is read back with a bit-stream reader rather than a plain shift/mask
// so that a future field sharing the byte (e.g. a closed-for-dispute flag)
// slots in as one more ReadBits call instead of a new mask constant.
func packFlags(mode Mode, status Status) byte {
	w := bstream.NewBStreamWriter(1)
	w.WriteBits(uint64(mode), 2)
	w.WriteBits(uint64(status), 1)
	w.WriteBits(0, 5)
	return w.Bytes()[0]
}

func unpackFlags(b byte) (Mode, Status) {
	r := bstream.NewBStreamReader([]byte{b})
	mode, _ := r.ReadBits(2)
	status, _ := r.ReadBits(1)
	return Mode(mode), Status(status)
}

// encodeChannel serializes a Channel record for storage under its channel
// ID key.
func encodeChannel(ch *Channel) ([]byte, error) {
	var buf bytes.Buffer

	if err := buf.WriteByte(packFlags(ch.Mode, ch.Status)); err != nil {
		return nil, err
	}
	if err := writeVarBytes(&buf, []byte(ch.VendorID)); err != nil {
		return nil, err
	}
	if err := writeVarBytes(&buf, ch.ClientPublicKey); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, ch.ChannelAmount); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, ch.UnitValue); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, ch.ModeCommitment.PayWordRoot); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, ch.ModeCommitment.PayWordMaxK); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, ch.ModeCommitment.PayTreeRoot); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, ch.ModeCommitment.PayTreeMaxI); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, ch.OpenedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, ch.UpdatedAt.UnixNano()); err != nil {
		return nil, err
	}

	if err := encodeLatestState(&buf, ch.LatestState); err != nil {
		return nil, err
	}

	hasClose := ch.ClosedStatement != nil
	if err := buf.WriteByte(boolByte(hasClose)); err != nil {
		return nil, err
	}
	if hasClose {
		if err := writeFixed(&buf, ch.ClosedStatement.FinalCumulativeOwedAmount); err != nil {
			return nil, err
		}
		if err := writeFixed(&buf, ch.ClosedStatement.ClosedAt.UnixNano()); err != nil {
			return nil, err
		}
		if err := writeVarBytes(&buf, ch.ClosedStatement.ClientSignature); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeChannel(id ChannelID, b []byte) (*Channel, error) {
	buf := bytes.NewReader(b)

	flagByte, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	mode, status := unpackFlags(flagByte)

	vendorID, err := readVarBytes(buf)
	if err != nil {
		return nil, err
	}
	clientPubKey, err := readVarBytes(buf)
	if err != nil {
		return nil, err
	}

	ch := &Channel{
		ID:              id,
		VendorID:        string(vendorID),
		ClientPublicKey: clientPubKey,
		Mode:            mode,
		Status:          status,
	}

	if err := readFixed(buf, &ch.ChannelAmount); err != nil {
		return nil, err
	}
	if err := readFixed(buf, &ch.UnitValue); err != nil {
		return nil, err
	}
	if err := readFixed(buf, &ch.ModeCommitment.PayWordRoot); err != nil {
		return nil, err
	}
	if err := readFixed(buf, &ch.ModeCommitment.PayWordMaxK); err != nil {
		return nil, err
	}
	if err := readFixed(buf, &ch.ModeCommitment.PayTreeRoot); err != nil {
		return nil, err
	}
	if err := readFixed(buf, &ch.ModeCommitment.PayTreeMaxI); err != nil {
		return nil, err
	}

	var openedNanos, updatedNanos int64
	if err := readFixed(buf, &openedNanos); err != nil {
		return nil, err
	}
	if err := readFixed(buf, &updatedNanos); err != nil {
		return nil, err
	}
	ch.OpenedAt = time.Unix(0, openedNanos).UTC()
	ch.UpdatedAt = time.Unix(0, updatedNanos).UTC()

	state, err := decodeLatestState(buf)
	if err != nil {
		return nil, err
	}
	ch.LatestState = state

	hasClose, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	if hasClose != 0 {
		var final uint64
		var closedNanos int64
		if err := readFixed(buf, &final); err != nil {
			return nil, err
		}
		if err := readFixed(buf, &closedNanos); err != nil {
			return nil, err
		}
		sig, err := readVarBytes(buf)
		if err != nil {
			return nil, err
		}
		ch.ClosedStatement = &ClosingRecord{
			FinalCumulativeOwedAmount: final,
			ClosedAt:                  time.Unix(0, closedNanos).UTC(),
			ClientSignature:           sig,
		}
	}

	return ch, nil
}

func encodeLatestState(buf *bytes.Buffer, s LatestState) error {
	if err := writeFixed(buf, s.Owed); err != nil {
		return err
	}
	if err := writeVarBytes(buf, s.ClientSignature); err != nil {
		return err
	}
	if err := writeFixed(buf, s.K); err != nil {
		return err
	}
	if err := writeFixed(buf, s.Token); err != nil {
		return err
	}
	if err := writeFixed(buf, s.I); err != nil {
		return err
	}
	if err := writeFixed(buf, s.Leaf); err != nil {
		return err
	}
	if err := writeFixed(buf, uint32(len(s.Proof))); err != nil {
		return err
	}
	for _, node := range s.Proof {
		if err := writeFixed(buf, node); err != nil {
			return err
		}
	}
	return nil
}

func decodeLatestState(buf *bytes.Reader) (LatestState, error) {
	var s LatestState
	if err := readFixed(buf, &s.Owed); err != nil {
		return s, err
	}
	sig, err := readVarBytes(buf)
	if err != nil {
		return s, err
	}
	s.ClientSignature = sig
	if err := readFixed(buf, &s.K); err != nil {
		return s, err
	}
	if err := readFixed(buf, &s.Token); err != nil {
		return s, err
	}
	if err := readFixed(buf, &s.I); err != nil {
		return s, err
	}
	if err := readFixed(buf, &s.Leaf); err != nil {
		return s, err
	}
	var n uint32
	if err := readFixed(buf, &n); err != nil {
		return s, err
	}
	s.Proof = make([][32]byte, n)
	for i := range s.Proof {
		if err := readFixed(buf, &s.Proof[i]); err != nil {
			return s, err
		}
	}
	return s, nil
}

func writeFixed(w io.Writer, v interface{}) error {
	return binary.Write(w, binary.BigEndian, v)
}

func readFixed(r io.Reader, v interface{}) error {
	return binary.Read(r, binary.BigEndian, v)
}

func writeVarBytes(buf *bytes.Buffer, b []byte) error {
	if err := writeFixed(buf, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readVarBytes(buf *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := readFixed(buf, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		return nil, fmt.Errorf("channeldb: short read: %w", err)
	}
	return b, nil
}

// clientIndexKey builds the secondary-index key for the open-channel-by-
// client lookup (§3.5, §6.3): vendorID is length-prefixed so no vendor ID
// or client key byte sequence can forge a collision across the boundary.
func clientIndexKey(vendorID string, clientPublicKey []byte) []byte {
	var buf bytes.Buffer
	writeVarBytes(&buf, []byte(vendorID))
	buf.Write(clientPublicKey)
	return buf.Bytes()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
