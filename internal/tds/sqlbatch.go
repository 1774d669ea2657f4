package tds

import "encoding/binary"

// ALL_HEADERS header types (MS-TDS 2.2.5.3.1).
const (
	allHeaderTypeQueryNotification uint16 = 1
	allHeaderTypeTransactionDescriptor uint16 = 2
)

// BuildAllHeaders builds the ALL_HEADERS data stream prefix required on
// SQL_BATCH, RPC_REQUEST and BULK_LOAD payloads: a 4-byte total length,
// one or more sub-headers each with a 4-byte header length and 2-byte
// type, here just the Transaction Descriptor header (MS-TDS 2.2.5.3.1 /
// 2.2.5.3.3), carrying the 8-byte transaction descriptor captured from
// ENVCHANGE type 8/9/10 (all-zero outside a transaction) and the
// outstanding-request count (always 1 for this engine, which never
// pipelines multiple requests on one descriptor).
func BuildAllHeaders(txnDescriptor [8]byte) []byte {
	const headerLen = 4 + 2 + 8 + 4 // header-length + type + descriptor + request count
	const totalLen = 4 + headerLen

	buf := make([]byte, totalLen)
	binary.LittleEndian.PutUint32(buf[0:4], totalLen)
	binary.LittleEndian.PutUint32(buf[4:8], headerLen)
	binary.LittleEndian.PutUint16(buf[8:10], allHeaderTypeTransactionDescriptor)
	copy(buf[10:18], txnDescriptor[:])
	binary.LittleEndian.PutUint32(buf[18:22], 1)
	return buf
}

// BuildSQLBatch builds a SQL_BATCH payload: ALL_HEADERS followed by the
// UTF-16LE query text. The caller writes this via Framer.WritePacket
// with PacketSQLBatch.
func BuildSQLBatch(txnDescriptor [8]byte, query string) []byte {
	payload := BuildAllHeaders(txnDescriptor)
	return append(payload, stringToUCS2(query)...)
}

// BuildAttention builds an ATTENTION packet body. MS-TDS 2.2.1.6 defines
// ATTENTION as a bare header with an empty payload and the EOM bit set;
// Framer.WritePacket already sets EOM on the final (only) chunk, so the
// body is simply empty.
func BuildAttention() []byte {
	return nil
}

// BuildBulkLoadPrologue builds the ALL_HEADERS prefix used to open a
// BULK_LOAD (INSERT BULK) stream; COLMETADATA/ROW/DONE tokens from
// internal/bulkload follow in the same packet/message.
func BuildBulkLoadPrologue(txnDescriptor [8]byte) []byte {
	return BuildAllHeaders(txnDescriptor)
}
