package q931

// Value dictionaries of the IE fields. Values are stored already shifted
// into their octet position.

var dictCodingStandard = Dict{
	{"ccitt", 0x00},
	{"iso/iec", 0x20},
	{"national", 0x40},
	{"network specific", 0x60},
}

var dictTransferCap = Dict{
	{"speech", 0x00},
	{"udi", 0x08},
	{"rdi", 0x09},
	{"3.1khz-audio", 0x10},
	{"udi-ta", 0x11},
	{"video", 0x18},
}

var dictTransferMode = Dict{
	{"circuit", 0x00},
	{"packet", 0x40},
}

var dictTransferRate = Dict{
	{"packet", 0x00},
	{"64kbit", 0x10},
	{"2x64kbit", 0x11},
	{"384kbit", 0x13},
	{"1536kbit", 0x15},
	{"1920kbit", 0x17},
	{"multirate", 0x18},
}

// RateMultirate is the transfer rate announcing a rate multiplier octet.
const RateMultirate = 0x18

var dictLayer1 = Dict{
	{"v110", 0x01},
	{"mulaw", 0x02},
	{"alaw", 0x03},
	{"g721", 0x04},
	{"h221", 0x05},
	{"non-ccitt", 0x07},
	{"v120", 0x08},
	{"x31", 0x09},
}

var dictLayer2 = Dict{
	{"q921", 0x02},
	{"x25", 0x06},
}

var dictLayer3 = Dict{
	{"q931", 0x02},
	{"x25", 0x06},
}

var dictLocation = Dict{
	{"user", 0x00},
	{"private-network-local", 0x01},
	{"public-net-local", 0x02},
	{"transit", 0x03},
	{"remote-public", 0x04},
	{"remote-private", 0x05},
	{"international", 0x07},
	{"beyond-interworking", 0x0a},
}

// CauseNames maps Q.850 cause values to their names. The trailing
// entries are aliases accepted when encoding.
var CauseNames = Dict{
	{"unallocated", 0x01},
	{"noroute-to-network", 0x02},
	{"noroute", 0x03},
	{"channel-unacceptable", 0x06},
	{"call-delivered", 0x07},
	{"normal-clearing", 0x10},
	{"busy", 0x11},
	{"noresponse", 0x12},
	{"noanswer", 0x13},
	{"rejected", 0x15},
	{"moved", 0x16},
	{"non-sel-user-clearing", 0x1a},
	{"dest-out-of-order", 0x1b},
	{"invalid-number-format", 0x1c},
	{"facility-rejected", 0x1d},
	{"status-enquiry-rsp", 0x1e},
	{"normal", 0x1f},
	{"congestion", 0x22},
	{"net-out-of-order", 0x26},
	{"temporary-failure", 0x29},
	{"switch-congestion", 0x2a},
	{"access-info-discarded", 0x2b},
	{"channel-unavailable", 0x2c},
	{"resource-unavailable", 0x2f},
	{"qos-unavailable", 0x31},
	{"facility-not-subscribed", 0x32},
	{"bearer-cap-not-auth", 0x39},
	{"bearer-cap-not-available", 0x3a},
	{"service-unavailable", 0x3f},
	{"bearer-cap-not-implemented", 0x41},
	{"channel-type-not-implemented", 0x42},
	{"facility-not-implemented", 0x45},
	{"restrict-bearer-cap-avail", 0x46},
	{"service-not-implemented", 0x4f},
	{"invalid-callref", 0x51},
	{"unknown-channel", 0x52},
	{"unknown-callid", 0x53},
	{"duplicate-callid", 0x54},
	{"no-call-suspended", 0x55},
	{"suspended-call-cleared", 0x56},
	{"incompatible-dest", 0x58},
	{"invalid-transit-net", 0x5b},
	{"invalid-message", 0x5f},
	{"missing-mandatory-ie", 0x60},
	{"unknown-message", 0x61},
	{"wrong-message", 0x62},
	{"unknown-ie", 0x63},
	{"invalid-ie", 0x64},
	{"wrong-state-message", 0x65},
	{"recovery-on-timer-expiry", 0x66},
	{"protocol-error", 0x6f},
	{"interworking", 0x7f},
	{"timeout", 0x66},
	{"network-busy", 0x2a},
	{"offline", 0x1b},
}

// CallStateNames maps Q.931 call state codes to names.
var CallStateNames = Dict{
	{"Null", 0x00},
	{"CallInitiated", 0x01},
	{"OverlapSend", 0x02},
	{"OutgoingProceeding", 0x03},
	{"CallDelivered", 0x04},
	{"CallPresent", 0x06},
	{"CallReceived", 0x07},
	{"ConnectReq", 0x08},
	{"IncomingProceeding", 0x09},
	{"Active", 0x0a},
	{"DisconnectReq", 0x0b},
	{"DisconnectIndication", 0x0c},
	{"SuspendReq", 0x0f},
	{"ResumeReq", 0x11},
	{"ReleaseReq", 0x13},
	{"CallAbort", 0x16},
	{"OverlapRecv", 0x19},
	{"RestartReq", 0x3d},
	{"Restart", 0x3e},
}

var dictChannelSelectBRI = Dict{
	{"none", 0x00},
	{"b1", 0x01},
	{"b2", 0x02},
	{"any", 0x03},
}

var dictChannelSelectPRI = Dict{
	{"none", 0x00},
	{"present", 0x01},
	{"reserved", 0x02},
	{"any", 0x03},
}

var dictChannelType = Dict{
	{"B", 0x03},
	{"H0", 0x06},
	{"H11", 0x08},
	{"H12", 0x09},
}

var dictProgressDescr = Dict{
	{"not-end-to-end-isdn", 0x01},
	{"destination-non-isdn", 0x02},
	{"origination-non-isdn", 0x03},
	{"return-to-isdn", 0x04},
	{"interworking", 0x05},
	{"in-band-info", 0x08},
}

var dictNotification = Dict{
	{"suspended", 0x00},
	{"resumed", 0x01},
	{"bearer-service-change", 0x02},
}

var dictSignal = Dict{
	{"dial", 0x00},
	{"ring", 0x01},
	{"intercept", 0x02},
	{"network-congestion", 0x03},
	{"busy", 0x04},
	{"confirm", 0x05},
	{"answer", 0x06},
	{"call-waiting", 0x07},
	{"off-hook", 0x08},
	{"preemption", 0x09},
	{"tones-off", 0x3f},
	{"pattern0", 0x40},
	{"pattern1", 0x41},
	{"pattern2", 0x42},
	{"pattern3", 0x43},
	{"pattern4", 0x44},
	{"pattern5", 0x45},
	{"pattern6", 0x46},
	{"pattern7", 0x47},
	{"alerting-off", 0x4f},
}

var dictNumType = Dict{
	{"unknown", 0x00},
	{"international", 0x10},
	{"national", 0x20},
	{"net-specific", 0x30},
	{"subscriber", 0x40},
	{"abbreviated", 0x60},
	{"reserved", 0x70},
}

var dictNumPlan = Dict{
	{"unknown", 0x00},
	{"isdn", 0x01},
	{"data", 0x03},
	{"telex", 0x04},
	{"national", 0x08},
	{"private", 0x09},
}

var dictPresentation = Dict{
	{"allowed", 0x00},
	{"restricted", 0x20},
	{"unavailable", 0x40},
}

var dictScreening = Dict{
	{"user-provided", 0x00},
	{"user-provided-passed", 0x01},
	{"user-provided-failed", 0x02},
	{"network-provided", 0x03},
}

var dictSubAddrType = Dict{
	{"nsap", 0x00},
	{"user", 0x20},
}

var dictRestartClass = Dict{
	{"channels", 0x00},
	{"interface", 0x06},
	{"all-interfaces", 0x07},
}

var dictNetIDType = Dict{
	{"user", 0x00},
	{"national", 0x20},
	{"international", 0x30},
}

var dictNetIDPlan = Dict{
	{"unknown", 0x00},
	{"carrier", 0x01},
	{"data", 0x03},
}

var dictHLInterpretation = Dict{
	{"first", 0x10},
}

var dictHLPresentation = Dict{
	{"high-layer-protocol-profile", 0x01},
}

var dictHLCharacteristics = Dict{
	{"telephony", 0x01},
	{"fax-g2-g3", 0x04},
	{"fax-g4", 0x21},
	{"teletex-basic-mixed", 0x24},
	{"teletex-basic-processable", 0x28},
	{"teletex-basic", 0x31},
	{"international-interworking", 0x32},
	{"telex", 0x35},
	{"message-handling", 0x38},
	{"osi", 0x41},
	{"maintenance", 0x5e},
	{"management", 0x5f},
}

var dictUserProtocol = Dict{
	{"user-specific", 0x00},
	{"osi-high-layer", 0x01},
	{"x244", 0x02},
	{"ia5", 0x04},
	{"v120", 0x07},
	{"q931", 0x08},
}

var dictCongestionLevel = Dict{
	{"receiver-ready", 0x00},
	{"receiver-not-ready", 0x0f},
}

var dictRepeat = Dict{
	{"priority", 0x02},
}
