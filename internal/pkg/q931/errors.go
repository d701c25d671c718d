package q931

import "github.com/pkg/errors"

var (
	ErrShortBuffer           = errors.New("q931: buffer too short")
	ErrProtocolDiscriminator = errors.New("q931: invalid protocol discriminator")
	ErrCallRefLen            = errors.New("q931: invalid call reference length")
	ErrCallRef               = errors.New("q931: call reference does not fit its length")
	ErrUnknownMessage        = errors.New("q931: unknown message type")
	ErrInvalidSegment        = errors.New("q931: invalid segment")
	ErrSegmentDropped        = errors.New("q931: segment dropped")
	ErrMessageTooLong        = errors.New("q931: message too long")
	ErrTooManySegments       = errors.New("q931: too many segments")
	ErrIETooLong             = errors.New("q931: information element too long")
	ErrIEEncode              = errors.New("q931: cannot encode information element")
)

// ParserData holds the codec settings shared by a controller and its calls.
type ParserData struct {
	// MaxMsgLen is the largest buffer handed to the data link.
	MaxMsgLen int
	// AllowSegment enables SEGMENT output when a message exceeds MaxMsgLen.
	AllowSegment bool
	MaxSegments  int
	// MaxDisplay is the Display content limit, 34 or 82.
	MaxDisplay    int
	Flags         Flags
	ExtendedDebug bool
}

// DefaultParserData returns settings suitable for a Q.921 link.
func DefaultParserData() ParserData {
	return ParserData{
		MaxMsgLen:   260,
		MaxSegments: 8,
		MaxDisplay:  34,
	}
}

// Flag reports whether every bit of f is enabled.
func (pd *ParserData) Flag(f Flags) bool {
	return pd != nil && pd.Flags.Has(f)
}
