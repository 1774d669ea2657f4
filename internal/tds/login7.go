package tds

import (
	"encoding/binary"
	"unicode/utf16"
)

// LOGIN7 OptionFlags1/2/3 and TypeFlags bits (MS-TDS 2.2.6.5).
const (
	FlagByteOrder uint8 = 0x01
	FlagChar      uint8 = 0x02
	FlagFloat     uint8 = 0x0C
	FlagDumpLoad  uint8 = 0x10
	FlagUseDB     uint8 = 0x20
	FlagDatabase  uint8 = 0x40
	FlagSetLang   uint8 = 0x80

	FlagLanguage      uint8 = 0x01
	FlagODBC          uint8 = 0x02
	FlagTransBoundary uint8 = 0x04
	FlagCacheConnect  uint8 = 0x08
	FlagIntSecurity   uint8 = 0x80

	FlagChangePassword   uint8 = 0x01
	FlagBinaryXML        uint8 = 0x02
	FlagUserInstance     uint8 = 0x04
	FlagUnknownCollation uint8 = 0x08
	FlagExtension        uint8 = 0x10

	FlagReadOnlyIntent uint8 = 0x20
)

// Login7HeaderSize is the fixed portion of a LOGIN7 packet (MS-TDS
// 2.2.6.5). The teacher's implementation confirms 94 bytes, which
// this engine follows over spec prose where the two disagree (see
// DESIGN.md).
const Login7HeaderSize = 94

// FeatureExt option IDs (MS-TDS 2.2.6.4 feature extension block).
const (
	FeatureExtSessionRecovery byte = 0x01
	FeatureExtFedAuth         byte = 0x02
	FeatureExtColumnEncryption byte = 0x04
	FeatureExtTerminator      byte = 0xFF
)

// FedAuthLibrary identifies which FEDAUTH sub-protocol the LOGIN7
// feature extension requests (MS-TDS 2.2.6.4).
type FedAuthLibrary byte

const (
	FedAuthLibraryLiveIDCompactToken FedAuthLibrary = 0x00
	FedAuthLibrarySecurityToken      FedAuthLibrary = 0x01 // token embedded inline (FedAuthEmbedded)
	FedAuthLibraryADAL               FedAuthLibrary = 0x02 // server sends FEDAUTHINFO, client replies with FEDAUTH_TOKEN
	FedAuthLibraryReserved           FedAuthLibrary = 0x7F
)

// Login7Request is the data needed to build a LOGIN7 packet. It mirrors
// the teacher's parsed Login7 fields exactly, just used for encoding
// instead of decoding.
type Login7Request struct {
	TDSVersion    uint32
	PacketSize    uint32
	ClientProgVer uint32
	ClientPID     uint32
	ConnectionID  uint32
	ClientTimeZone int32
	ClientLCID    uint32

	HostName   string
	UserName   string
	Password   string // plaintext; mangled during Encode
	AppName    string
	ServerName string
	CtlIntName string
	Language   string
	Database   string

	ReadOnlyIntent bool

	// FeatureExt, when non-nil, is appended as the LOGIN7 feature
	// extension block (FEDAUTH token/ADAL request, session recovery).
	FeatureExt []byte
}

// Encode builds the wire bytes of a LOGIN7 packet: the 94-byte fixed
// header, followed by the variable-length fields in header-declared
// order, followed by the optional feature extension block.
func (r *Login7Request) Encode() []byte {
	hostName := stringToUCS2(r.HostName)
	userName := stringToUCS2(r.UserName)
	password := mangledPassword(r.Password)
	appName := stringToUCS2(r.AppName)
	serverName := stringToUCS2(r.ServerName)
	ctlIntName := stringToUCS2(r.CtlIntName)
	language := stringToUCS2(r.Language)
	database := stringToUCS2(r.Database)

	hasExt := len(r.FeatureExt) > 0

	offset := uint16(Login7HeaderSize)
	fields := [][]byte{hostName, userName, password, appName, serverName, ctlIntName, language, database}

	offsets := make([]uint16, len(fields))
	for i, f := range fields {
		offsets[i] = offset
		offset += uint16(len(f))
	}

	var extOffsetFieldPos uint16
	var extBlock []byte
	if hasExt {
		// The LOGIN7 ExtensionOffset field points to a 4-byte DWORD
		// (placed right after the variable data) that in turn holds
		// the absolute offset of the feature-ext TLV block.
		extOffsetFieldPos = offset
		dwordOffset := uint32(offset) + 4
		extBlock = make([]byte, 4, 4+len(r.FeatureExt))
		binary.LittleEndian.PutUint32(extBlock[0:4], dwordOffset)
		extBlock = append(extBlock, r.FeatureExt...)
		offset += uint16(len(extBlock))
	}

	totalLen := uint32(offset)

	buf := make([]byte, Login7HeaderSize, totalLen)
	binary.LittleEndian.PutUint32(buf[0:4], totalLen)
	binary.LittleEndian.PutUint32(buf[4:8], r.TDSVersion)
	binary.LittleEndian.PutUint32(buf[8:12], r.PacketSize)
	binary.LittleEndian.PutUint32(buf[12:16], r.ClientProgVer)
	binary.LittleEndian.PutUint32(buf[16:20], r.ClientPID)
	binary.LittleEndian.PutUint32(buf[20:24], r.ConnectionID)

	buf[24] = FlagDumpLoad | FlagUseDB | FlagSetLang
	buf[25] = FlagODBC
	var typeFlags uint8
	if r.ReadOnlyIntent {
		typeFlags |= FlagReadOnlyIntent
	}
	buf[26] = typeFlags
	var flags3 uint8
	if hasExt {
		flags3 |= FlagExtension
	}
	buf[27] = flags3

	binary.LittleEndian.PutUint32(buf[28:32], uint32(r.ClientTimeZone))
	binary.LittleEndian.PutUint32(buf[32:36], r.ClientLCID)

	putField := func(off int, o uint16, l int) {
		binary.LittleEndian.PutUint16(buf[off:off+2], o)
		binary.LittleEndian.PutUint16(buf[off+2:off+4], uint16(l))
	}
	putField(36, offsets[0], len(hostName)/2)
	putField(40, offsets[1], len(userName)/2)
	putField(44, offsets[2], len(password)/2)
	putField(48, offsets[3], len(appName)/2)
	putField(52, offsets[4], len(serverName)/2)
	if hasExt {
		putField(56, extOffsetFieldPos, 0)
	} else {
		putField(56, 0, 0)
	}
	putField(60, offsets[5], len(ctlIntName)/2)
	putField(64, offsets[6], len(language)/2)
	putField(68, offsets[7], len(database)/2)
	// ClientID: 6 bytes, left zero (no MAC-address reporting)
	putField(78, 0, 0) // SSPI
	putField(82, 0, 0) // AtchDBFile
	putField(86, 0, 0) // ChangePassword
	binary.LittleEndian.PutUint32(buf[90:94], 0) // SSPILongLength

	for _, f := range fields {
		buf = append(buf, f...)
	}
	if hasExt {
		buf = append(buf, extBlock...)
	}

	return buf
}

// mangledPassword applies the TDS LOGIN7 password obfuscation: UCS-2
// encode, then XOR each byte with 0xA5 and swap its nibbles. The
// transform is not its own inverse: demangling swaps the nibbles first
// and then XORs with 0xA5.
func mangledPassword(password string) []byte {
	b := stringToUCS2(password)
	for i := range b {
		x := b[i] ^ 0xA5
		b[i] = (x >> 4) | (x << 4)
	}
	return b
}

func stringToUCS2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

// EncodeUCS2 exposes stringToUCS2 for callers outside this package that
// need to build wire fields in the same UTF-16LE encoding, such as the
// FEDAUTH_TOKEN message body.
func EncodeUCS2(s string) []byte {
	return stringToUCS2(s)
}

// BuildFedAuthTokenMessage builds the FEDAUTH_TOKEN packet body sent in
// reply to FEDAUTHINFO during an ADAL login (MS-TDS 2.2.7.12 /
// 2.2.6.4): a 4-byte total length, the UTF-16LE access token, and an
// optional 32-byte nonce echoed back when the server supplied one.
func BuildFedAuthTokenMessage(accessToken string, nonce []byte) []byte {
	tokenBytes := stringToUCS2(accessToken)
	total := len(tokenBytes) + len(nonce)

	buf := make([]byte, 4, 4+total)
	binary.LittleEndian.PutUint32(buf, uint32(total))
	buf = append(buf, tokenBytes...)
	buf = append(buf, nonce...)
	return buf
}

// BuildFedAuthFeatureExt builds the FEDAUTH feature-extension TLV for
// the LOGIN7 feature block (MS-TDS 2.2.6.4): FeatureId, 4-byte length,
// 1-byte options (library<<1 | fWithEcho), then for FedAuthLibrarySecurityToken
// a 4-byte token length + token bytes; for ADAL, just the options byte.
// For either library a 32-byte nonce, when one is supplied, is appended
// to the body.
func BuildFedAuthFeatureExt(lib FedAuthLibrary, fWithEcho bool, token []byte, nonce []byte) []byte {
	var body []byte
	options := byte(lib) << 1
	if fWithEcho {
		options |= 0x01
	}
	body = append(body, options)

	if lib == FedAuthLibrarySecurityToken {
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(token)))
		body = append(body, lenBuf...)
		body = append(body, token...)
	}
	if len(nonce) == 32 {
		body = append(body, nonce...)
	}

	out := make([]byte, 0, 5+len(body)+1)
	out = append(out, FeatureExtFedAuth)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(body)))
	out = append(out, lenBuf...)
	out = append(out, body...)
	out = append(out, FeatureExtTerminator)
	return out
}
