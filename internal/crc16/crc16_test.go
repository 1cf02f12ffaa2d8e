package crc16

import "testing"

func TestChecksumDeterministic(t *testing.T) {
	data := []byte{0xEF, 0x89, 0x01, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	a := Checksum(data)
	b := Checksum(data)
	if a != b {
		t.Fatalf("checksum not deterministic: %x != %x", a, b)
	}
}

func TestChecksumDetectsSingleBitFlip(t *testing.T) {
	data := []byte{0xEF, 0x89, 0x01, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	original := Checksum(data)

	corrupted := append([]byte(nil), data...)
	corrupted[3] ^= 0x01
	if Checksum(corrupted) == original {
		t.Fatalf("expected checksum to change on single-bit corruption")
	}
}

func TestChecksumEmpty(t *testing.T) {
	if Checksum(nil) != initial {
		t.Fatalf("expected checksum of empty input to equal the initial value")
	}
}
