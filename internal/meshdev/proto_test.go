package meshdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestFormatNodeID(t *testing.T) {
	assert.Equal(t, "!12345678", FormatNodeID(0x12345678))
	assert.Equal(t, "!0000abcd", FormatNodeID(0xabcd))
	assert.Equal(t, "!ffffffff", FormatNodeID(BroadcastNum))
	assert.Equal(t, "!deadbeef", Node{Num: 0xdeadbeef}.ID())
}

func TestPortNumString(t *testing.T) {
	assert.Equal(t, "TEXT_MESSAGE_APP", PortTextMessage.String())
	assert.Equal(t, "TELEMETRY_APP", PortTelemetry.String())
	assert.Equal(t, "NEIGHBORINFO_APP", PortNeighborInfo.String())
	assert.Equal(t, "999", PortNum(999).String())
}

func TestHWModelName(t *testing.T) {
	assert.Equal(t, "RAK4631", HWModelName(9))
	assert.Equal(t, "HELTEC_V3", HWModelName(43))
	assert.Equal(t, "HW_200", HWModelName(200))
}

func TestDecodeMeshPacket(t *testing.T) {
	want := Packet{
		From:     0x12345678,
		To:       BroadcastNum,
		ID:       42,
		Channel:  1,
		HopLimit: 3,
		HopStart: 7,
		WantAck:  true,
		ViaMQTT:  true,
		RxTime:   1700000000,
		RxSNR:    -7.25,
		RxRSSI:   -101,
		Decoded:  &Data{PortNum: PortTextMessage, Payload: []byte("hi")},
	}

	got, err := decodeMeshPacket(encodeMeshPacket(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeMeshPacket_Encrypted(t *testing.T) {
	got, err := decodeMeshPacket(encodeMeshPacket(Packet{From: 1, To: 2, Encrypted: []byte{0xAA, 0xBB}}))
	require.NoError(t, err)
	assert.Nil(t, got.Decoded)
	assert.Equal(t, []byte{0xAA, 0xBB}, got.Encrypted)
}

func TestDecodeMeshPacket_UnknownFieldsIgnored(t *testing.T) {
	b := encodeMeshPacket(Packet{From: 5, To: 6})
	b = appendVarintField(b, 11, 70)                 // priority
	b = appendBytesField(b, 99, []byte("future use")) // unknown

	got, err := decodeMeshPacket(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.From)
	assert.Equal(t, uint32(6), got.To)
}

func TestDecodeMeshPacket_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated tag", []byte{0x80}},
		{"truncated fixed32", []byte{0x0d, 0x01, 0x02}},
		{"wrong wire type for from", appendVarintField(nil, 1, 7)},
		{"length past end", []byte{0x22, 0x10, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeMeshPacket(tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeUser(t *testing.T) {
	u, err := DecodeUser(encodeUser(User{ID: "!12345678", LongName: "Base Station 🏠", ShortName: "BASE"}, 43))
	require.NoError(t, err)
	assert.Equal(t, User{ID: "!12345678", LongName: "Base Station 🏠", ShortName: "BASE", HWModel: "HELTEC_V3"}, u)
}

func TestDecodeUser_Partial(t *testing.T) {
	u, err := DecodeUser(appendBytesField(nil, 3, []byte("ABC")))
	require.NoError(t, err)
	assert.Equal(t, "ABC", u.ShortName)
	assert.Empty(t, u.LongName)
	assert.Empty(t, u.HWModel)
}

func TestDecodePosition(t *testing.T) {
	lat, lon, alt := int32(-337000000), int32(1512000000), int64(-12)

	var b []byte
	b = appendFixed32Field(b, 1, uint32(lat))
	b = appendFixed32Field(b, 2, uint32(lon))
	b = appendVarintField(b, 3, uint64(alt))

	p, err := DecodePosition(b)
	require.NoError(t, err)
	assert.Equal(t, Position{
		LatitudeI: -337000000, LongitudeI: 1512000000, Altitude: -12,
		HasLatitude: true, HasLongitude: true, HasAltitude: true,
	}, p)
}

func TestDecodePosition_TimeOnly(t *testing.T) {
	p, err := DecodePosition(appendFixed32Field(nil, 4, 1700000000))
	require.NoError(t, err)
	assert.False(t, p.HasLatitude)
	assert.False(t, p.HasLongitude)
	assert.False(t, p.HasAltitude)
}

func TestDecodeTelemetry(t *testing.T) {
	m := DeviceMetrics{BatteryLevel: 87, Voltage: 4.1, ChannelUtilization: 12.5, AirUtilTx: 1.25}
	b := appendFixed32Field(nil, 1, 1700000000)
	b = appendBytesField(b, 2, encodeDeviceMetrics(m))

	tel, err := DecodeTelemetry(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(1700000000), tel.Time)
	require.NotNil(t, tel.DeviceMetrics)
	assert.Equal(t, m, *tel.DeviceMetrics)
}

func TestDecodeTelemetry_PartialDeviceMetrics(t *testing.T) {
	inner := appendVarintField(nil, 1, 50)
	inner = append(inner, 0x15, 0x01) // voltage cut short
	b := appendBytesField(nil, 2, inner)

	tel, err := DecodeTelemetry(b)
	require.ErrorIs(t, err, ErrMalformed)
	require.NotNil(t, tel.DeviceMetrics)
	assert.Equal(t, uint32(50), tel.DeviceMetrics.BatteryLevel)
}

func TestDecodeTelemetry_EnvironmentOnly(t *testing.T) {
	b := appendBytesField(nil, 3, appendFloatField(nil, 1, 21.5))

	tel, err := DecodeTelemetry(b)
	require.NoError(t, err)
	assert.Nil(t, tel.DeviceMetrics)
}

func TestDecodeFromRadio(t *testing.T) {
	t.Run("my info", func(t *testing.T) {
		fr, err := decodeFromRadio(fromRadioMyInfoMsg(0xcafe))
		require.NoError(t, err)
		assert.True(t, fr.hasMyInfo)
		assert.Equal(t, uint32(0xcafe), fr.myNodeNum)
	})

	t.Run("node info", func(t *testing.T) {
		fr, err := decodeFromRadio(fromRadioNodeInfoMsg(0x1234, User{ShortName: "N1", LongName: "Node One"}, 1700000100))
		require.NoError(t, err)
		require.NotNil(t, fr.nodeInfo)
		assert.Equal(t, uint32(0x1234), fr.nodeInfo.Num)
		assert.Equal(t, "N1", fr.nodeInfo.User.ShortName)
		assert.Equal(t, "RAK4631", fr.nodeInfo.User.HWModel)
		assert.Equal(t, float32(6.5), fr.nodeInfo.SNR)
		assert.Equal(t, uint32(1700000100), fr.nodeInfo.LastHeard)
		require.NotNil(t, fr.nodeInfo.DeviceMetrics)
		assert.Equal(t, uint32(80), fr.nodeInfo.DeviceMetrics.BatteryLevel)
	})

	t.Run("config complete", func(t *testing.T) {
		fr, err := decodeFromRadio(fromRadioConfigCompleteMsg(77))
		require.NoError(t, err)
		assert.True(t, fr.hasConfigDone)
		assert.Equal(t, uint32(77), fr.configCompleteID)
	})

	t.Run("other variants ignored", func(t *testing.T) {
		fr, err := decodeFromRadio(appendBytesField(nil, 6, []byte("log record")))
		require.NoError(t, err)
		assert.Nil(t, fr.packet)
		assert.Nil(t, fr.nodeInfo)
		assert.False(t, fr.hasConfigDone)
	})
}

func TestEncodeToRadio(t *testing.T) {
	num, typ, n := protowire.ConsumeTag(encodeWantConfig(12345))
	require.Positive(t, n)
	assert.Equal(t, toRadioWantConfigID, num)
	assert.Equal(t, protowire.VarintType, typ)

	v, m := protowire.ConsumeVarint(encodeWantConfig(12345)[n:])
	require.Positive(t, m)
	assert.Equal(t, uint64(12345), v)

	assert.Equal(t, []byte{0x3a, 0x00}, encodeHeartbeat())
}
