package meshdev

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Test encoders for the protobuf messages the driver decodes.

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFixed32Field(b []byte, num protowire.Number, v uint32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

func appendFloatField(b []byte, num protowire.Number, v float32) []byte {
	return appendFixed32Field(b, num, math.Float32bits(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func encodeUser(u User, hwModel uint64) []byte {
	var b []byte
	b = appendBytesField(b, 1, []byte(u.ID))
	b = appendBytesField(b, 2, []byte(u.LongName))
	b = appendBytesField(b, 3, []byte(u.ShortName))
	return appendVarintField(b, 5, hwModel)
}

func encodeData(port PortNum, payload []byte) []byte {
	b := appendVarintField(nil, 1, uint64(port))
	return appendBytesField(b, 2, payload)
}

func encodeDeviceMetrics(m DeviceMetrics) []byte {
	b := appendVarintField(nil, 1, uint64(m.BatteryLevel))
	b = appendFloatField(b, 2, m.Voltage)
	b = appendFloatField(b, 3, m.ChannelUtilization)
	return appendFloatField(b, 4, m.AirUtilTx)
}

func encodeMeshPacket(p Packet) []byte {
	var b []byte
	b = appendFixed32Field(b, 1, p.From)
	b = appendFixed32Field(b, 2, p.To)
	if p.Channel != 0 {
		b = appendVarintField(b, 3, uint64(p.Channel))
	}
	if p.Decoded != nil {
		b = appendBytesField(b, 4, encodeData(p.Decoded.PortNum, p.Decoded.Payload))
	}
	if p.Encrypted != nil {
		b = appendBytesField(b, 5, p.Encrypted)
	}
	b = appendFixed32Field(b, 6, p.ID)
	if p.RxTime != 0 {
		b = appendFixed32Field(b, 7, p.RxTime)
	}
	if p.RxSNR != 0 {
		b = appendFloatField(b, 8, p.RxSNR)
	}
	if p.HopLimit != 0 {
		b = appendVarintField(b, 9, uint64(p.HopLimit))
	}
	if p.WantAck {
		b = appendVarintField(b, 10, 1)
	}
	if p.RxRSSI != 0 {
		b = appendVarintField(b, 12, uint64(int64(p.RxRSSI)))
	}
	if p.ViaMQTT {
		b = appendVarintField(b, 14, 1)
	}
	if p.HopStart != 0 {
		b = appendVarintField(b, 15, uint64(p.HopStart))
	}
	return b
}

func fromRadioPacketMsg(p Packet) []byte {
	return appendBytesField(nil, fromRadioPacket, encodeMeshPacket(p))
}

func fromRadioMyInfoMsg(num uint32) []byte {
	return appendBytesField(nil, fromRadioMyInfo, appendVarintField(nil, 1, uint64(num)))
}

func fromRadioNodeInfoMsg(num uint32, u User, lastHeard uint32) []byte {
	var n []byte
	n = appendVarintField(n, 1, uint64(num))
	n = appendBytesField(n, 2, encodeUser(u, 9))
	n = appendFloatField(n, 4, 6.5)
	n = appendFixed32Field(n, 5, lastHeard)
	n = appendBytesField(n, 6, encodeDeviceMetrics(DeviceMetrics{BatteryLevel: 80, Voltage: 3.9}))
	return appendBytesField(nil, fromRadioNodeInfo, n)
}

func fromRadioConfigCompleteMsg(nonce uint32) []byte {
	return appendVarintField(nil, fromRadioConfigComplete, uint64(nonce))
}
