package tds

import (
	"encoding/binary"
	"testing"
)

func TestLogin7RequestEncodeHeaderFields(t *testing.T) {
	r := &Login7Request{
		TDSVersion: VerTDS74,
		PacketSize: DefaultPacketSize,
		HostName:   "host",
		UserName:   "sa",
		Password:   "pw",
		AppName:    "app",
		ServerName: "srv",
		Database:   "master",
	}
	buf := r.Encode()
	if len(buf) < Login7HeaderSize {
		t.Fatalf("Encode produced %d bytes, shorter than the fixed header", len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); int(got) != len(buf) {
		t.Errorf("total length field = %d, want %d", got, len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[4:8]); got != VerTDS74 {
		t.Errorf("TDSVersion field = %x, want %x", got, VerTDS74)
	}
}

func TestLogin7RequestEncodeOmitsFeatureExtWhenNil(t *testing.T) {
	r := &Login7Request{UserName: "sa"}
	buf := r.Encode()
	if buf[27]&FlagExtension != 0 {
		t.Error("OptionFlags3 extension bit must be unset with no FeatureExt")
	}
}

func TestLogin7RequestEncodeSetsFeatureExtFlag(t *testing.T) {
	r := &Login7Request{UserName: "sa", FeatureExt: BuildFedAuthFeatureExt(FedAuthLibrarySecurityToken, false, []byte("tok"), nil)}
	buf := r.Encode()
	if buf[27]&FlagExtension == 0 {
		t.Error("OptionFlags3 extension bit must be set when FeatureExt is present")
	}
}

func TestMangledPasswordIsReversible(t *testing.T) {
	mangled := mangledPassword("correct horse battery staple")
	demangled := make([]byte, len(mangled))
	for i, b := range mangled {
		x := (b << 4) | (b >> 4)
		demangled[i] = x ^ 0xA5
	}
	if string(demangled) != string(stringToUCS2("correct horse battery staple")) {
		t.Error("demangling mangledPassword's output should recover the original UCS-2 bytes")
	}
}

func TestBuildFedAuthTokenMessageLengthPrefix(t *testing.T) {
	nonce := make([]byte, 32)
	msg := BuildFedAuthTokenMessage("access-token", nonce)
	total := binary.LittleEndian.Uint32(msg[0:4])
	if int(total) != len(msg)-4 {
		t.Errorf("length prefix = %d, want %d", total, len(msg)-4)
	}
}

func TestBuildFedAuthFeatureExtSecurityTokenIncludesTokenLength(t *testing.T) {
	ext := BuildFedAuthFeatureExt(FedAuthLibrarySecurityToken, true, []byte("abc"), nil)
	if ext[0] != FeatureExtFedAuth {
		t.Fatalf("FeatureId = %x, want %x", ext[0], FeatureExtFedAuth)
	}
	// ext[5] is the options byte; the 4-byte token length follows it.
	if got := binary.LittleEndian.Uint32(ext[6:10]); got != 3 {
		t.Errorf("token length = %d, want 3", got)
	}
	if ext[len(ext)-1] != FeatureExtTerminator {
		t.Error("expected a trailing feature extension terminator")
	}
}

func TestBuildFedAuthFeatureExtADALOmitsTokenLength(t *testing.T) {
	ext := BuildFedAuthFeatureExt(FedAuthLibraryADAL, false, nil, nil)
	bodyLen := binary.LittleEndian.Uint32(ext[1:5])
	// options byte only: ADAL carries no inline token.
	if bodyLen != 1 {
		t.Errorf("body length = %d, want 1 (options byte only)", bodyLen)
	}
}
