package tds

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Type:     PacketLogin7,
		Status:   StatusEOM,
		Length:   512,
		SPID:     7,
		PacketID: 3,
		Window:   0,
	}
	var buf bytes.Buffer
	if err := h.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != HeaderSize {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), HeaderSize)
	}
	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("ReadHeader() = %+v, want %+v", got, h)
	}
}

func TestHeaderLengthIsBigEndian(t *testing.T) {
	h := Header{Type: PacketSQLBatch, Status: StatusEOM, Length: 0x0102, SPID: 0x0304, PacketID: 1}
	var buf bytes.Buffer
	if err := h.Write(&buf); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if b[2] != 0x01 || b[3] != 0x02 {
		t.Errorf("Length bytes = %x %x, want big-endian 01 02", b[2], b[3])
	}
	if b[4] != 0x03 || b[5] != 0x04 {
		t.Errorf("SPID bytes = %x %x, want big-endian 03 04", b[4], b[5])
	}
}

func TestPayloadLength(t *testing.T) {
	cases := []struct {
		length uint16
		want   int
	}{
		{HeaderSize, 0},
		{HeaderSize + 10, 10},
		{HeaderSize - 1, 0},
	}
	for _, c := range cases {
		h := Header{Length: c.length}
		if got := h.PayloadLength(); got != c.want {
			t.Errorf("PayloadLength(%d) = %d, want %d", c.length, got, c.want)
		}
	}
}

func TestIsLastPacket(t *testing.T) {
	if (Header{Status: StatusNormal}).IsLastPacket() {
		t.Error("StatusNormal must not report IsLastPacket")
	}
	if !(Header{Status: StatusEOM}).IsLastPacket() {
		t.Error("StatusEOM must report IsLastPacket")
	}
	if !(Header{Status: StatusEOM | StatusIgnore}).IsLastPacket() {
		t.Error("StatusEOM combined with another flag must still report IsLastPacket")
	}
}

func TestPacketTypeString(t *testing.T) {
	if got := PacketLogin7.String(); got != "LOGIN7" {
		t.Errorf("String() = %q, want LOGIN7", got)
	}
	if got := PacketType(99).String(); got == "" {
		t.Error("unknown packet type must still stringify to something non-empty")
	}
}
