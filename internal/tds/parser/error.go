package parser

// ErrorInfoToken carries the fields shared by the ERROR (0xAA) and
// INFO (0xAB) tokens, which have an identical wire layout (MS-TDS
// 2.2.7.9/2.2.7.13) and differ only in severity convention.
type ErrorInfoToken struct {
	Number     int32
	State      uint8
	Class      uint8 // severity
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
}

func parseErrorInfo(r *reader) (*ErrorInfoToken, error) {
	// The token's own 2-byte length prefix has already been consumed
	// by the caller (parser.go), which needs it to bound sub-token
	// reads consistently with every other token type.
	number, err := r.Int32()
	if err != nil {
		return nil, err
	}
	state, err := r.Byte()
	if err != nil {
		return nil, err
	}
	class, err := r.Byte()
	if err != nil {
		return nil, err
	}
	message, err := r.USVarchar()
	if err != nil {
		return nil, err
	}
	serverName, err := r.BVarchar()
	if err != nil {
		return nil, err
	}
	procName, err := r.BVarchar()
	if err != nil {
		return nil, err
	}
	line, err := r.Int32()
	if err != nil {
		return nil, err
	}
	return &ErrorInfoToken{
		Number:     number,
		State:      state,
		Class:      class,
		Message:    message,
		ServerName: serverName,
		ProcName:   procName,
		LineNumber: line,
	}, nil
}
