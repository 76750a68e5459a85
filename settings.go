package http2

import (
	"github.com/nomadlabsinc/h2o/http2utils"
)

const FrameSettings FrameType = 0x4

var _ Frame = &Settings{}

// Settings identifiers, as defined by RFC 7540 section 6.5.2.
const (
	SettingHeaderTableSize      uint16 = 0x1
	SettingEnablePush           uint16 = 0x2
	SettingMaxConcurrentStreams uint16 = 0x3
	SettingInitialWindowSize    uint16 = 0x4
	SettingMaxFrameSize         uint16 = 0x5
	SettingMaxHeaderListSize    uint16 = 0x6
)

const (
	defaultHeaderTableSize   = 4096
	defaultMaxConcurrent     = 100
	defaultInitialWindowSize = 65535
	defaultMaxFrameSize      = 16384
	maxAllowedFrameSize      = 1<<24 - 1
	maxAllowedWindowSize     = 1<<31 - 1
)

// Settings represents a SETTINGS frame: a set of connection
// configuration parameters negotiated between peers.
//
// https://tools.ietf.org/html/rfc7540#section-6.5
type Settings struct {
	ack bool

	headerTableSize      uint32
	enablePush           bool
	maxStreams           uint32
	maxWindowSize        uint32
	maxFrameSize         uint32
	maxHeaderListSize    uint32
	pushSet              bool
	headerTableSizeSet   bool
	maxStreamsSet        bool
	maxWindowSizeSet     bool
	maxFrameSizeSet      bool
	maxHeaderListSizeSet bool
}

func (st *Settings) Type() FrameType {
	return FrameSettings
}

// Reset resets all fields to their zero value; it does NOT restore the
// protocol defaults, since an empty SETTINGS frame means "no changes".
func (st *Settings) Reset() {
	*st = Settings{}
}

// CopyTo copies every field, including the "is set" flags, to st2.
func (st *Settings) CopyTo(st2 *Settings) {
	*st2 = *st
}

// IsAck returns whether the SETTINGS frame is an acknowledgement.
func (st *Settings) IsAck() bool {
	return st.ack
}

// SetAck marks the SETTINGS frame as an acknowledgement; an ack carries
// no parameters.
func (st *Settings) SetAck(ack bool) {
	st.ack = ack
}

// HeaderTableSize returns SETTINGS_HEADER_TABLE_SIZE, or the protocol
// default if unset.
func (st *Settings) HeaderTableSize() uint32 {
	if !st.headerTableSizeSet {
		return defaultHeaderTableSize
	}

	return st.headerTableSize
}

// SetHeaderTableSize sets SETTINGS_HEADER_TABLE_SIZE.
func (st *Settings) SetHeaderTableSize(size uint32) {
	st.headerTableSize = size
	st.headerTableSizeSet = true
}

// Push returns SETTINGS_ENABLE_PUSH, defaulting to true per the spec.
func (st *Settings) Push() bool {
	if !st.pushSet {
		return true
	}

	return st.enablePush
}

// SetPush sets SETTINGS_ENABLE_PUSH.
func (st *Settings) SetPush(enable bool) {
	st.enablePush = enable
	st.pushSet = true
}

// MaxConcurrentStreams returns SETTINGS_MAX_CONCURRENT_STREAMS. A zero
// return means the peer placed no limit.
func (st *Settings) MaxConcurrentStreams() uint32 {
	return st.maxStreams
}

// SetMaxConcurrentStreams sets SETTINGS_MAX_CONCURRENT_STREAMS.
func (st *Settings) SetMaxConcurrentStreams(n uint32) {
	st.maxStreams = n
	st.maxStreamsSet = true
}

// MaxWindowSize returns SETTINGS_INITIAL_WINDOW_SIZE, or the protocol
// default if unset.
func (st *Settings) MaxWindowSize() uint32 {
	if !st.maxWindowSizeSet {
		return defaultInitialWindowSize
	}

	return st.maxWindowSize
}

// SetMaxWindowSize sets SETTINGS_INITIAL_WINDOW_SIZE.
func (st *Settings) SetMaxWindowSize(size uint32) {
	st.maxWindowSize = size
	st.maxWindowSizeSet = true
}

// MaxFrameSize returns SETTINGS_MAX_FRAME_SIZE, or the protocol default
// if unset.
func (st *Settings) MaxFrameSize() uint32 {
	if !st.maxFrameSizeSet {
		return defaultMaxFrameSize
	}

	return st.maxFrameSize
}

// SetMaxFrameSize sets SETTINGS_MAX_FRAME_SIZE, clamped to the legal
// range [2^14, 2^24-1].
func (st *Settings) SetMaxFrameSize(size uint32) {
	if size < defaultMaxFrameSize {
		size = defaultMaxFrameSize
	} else if size > maxAllowedFrameSize {
		size = maxAllowedFrameSize
	}

	st.maxFrameSize = size
	st.maxFrameSizeSet = true
}

// MaxHeaderListSize returns SETTINGS_MAX_HEADER_LIST_SIZE. A zero
// return means the peer placed no limit.
func (st *Settings) MaxHeaderListSize() uint32 {
	return st.maxHeaderListSize
}

// SetMaxHeaderListSize sets SETTINGS_MAX_HEADER_LIST_SIZE.
func (st *Settings) SetMaxHeaderListSize(n uint32) {
	st.maxHeaderListSize = n
	st.maxHeaderListSizeSet = true
}

func (st *Settings) Deserialize(fr *FrameHeader) error {
	st.ack = fr.Flags().Has(FlagAck)

	payload := fr.payload
	if len(payload)%6 != 0 {
		return ErrMissingBytes
	}

	for len(payload) > 0 {
		ident := uint16(payload[0])<<8 | uint16(payload[1])
		value := http2utils.BytesToUint32(payload[2:6])
		payload = payload[6:]

		switch ident {
		case SettingHeaderTableSize:
			st.SetHeaderTableSize(value)
		case SettingEnablePush:
			st.SetPush(value != 0)
		case SettingMaxConcurrentStreams:
			st.SetMaxConcurrentStreams(value)
		case SettingInitialWindowSize:
			if value > maxAllowedWindowSize {
				return NewError(FlowControlError, "initial window size too large")
			}

			st.SetMaxWindowSize(value)
		case SettingMaxFrameSize:
			if value < defaultMaxFrameSize || value > maxAllowedFrameSize {
				return NewError(ProtocolError, "invalid max frame size")
			}

			st.SetMaxFrameSize(value)
		case SettingMaxHeaderListSize:
			st.SetMaxHeaderListSize(value)
		}
		// unknown settings identifiers must be ignored (RFC 7540 6.5.2).
	}

	return nil
}

func (st *Settings) Serialize(fr *FrameHeader) {
	if st.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
		fr.payload = fr.payload[:0]
		return
	}

	payload := fr.payload[:0]

	if st.headerTableSizeSet {
		payload = appendSetting(payload, SettingHeaderTableSize, st.headerTableSize)
	}
	if st.pushSet {
		v := uint32(0)
		if st.enablePush {
			v = 1
		}
		payload = appendSetting(payload, SettingEnablePush, v)
	}
	if st.maxStreamsSet {
		payload = appendSetting(payload, SettingMaxConcurrentStreams, st.maxStreams)
	}
	if st.maxWindowSizeSet {
		payload = appendSetting(payload, SettingInitialWindowSize, st.maxWindowSize)
	}
	if st.maxFrameSizeSet {
		payload = appendSetting(payload, SettingMaxFrameSize, st.maxFrameSize)
	}
	if st.maxHeaderListSizeSet {
		payload = appendSetting(payload, SettingMaxHeaderListSize, st.maxHeaderListSize)
	}

	fr.payload = payload
}

func appendSetting(dst []byte, ident uint16, value uint32) []byte {
	dst = append(dst, byte(ident>>8), byte(ident))
	return http2utils.AppendUint32Bytes(dst, value)
}
