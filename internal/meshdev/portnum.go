package meshdev

import "strconv"

// PortNum identifies the application a decoded payload belongs to.
type PortNum int32

// Port numbers from the Meshtastic portnums.proto.
const (
	PortUnknown          PortNum = 0
	PortTextMessage      PortNum = 1
	PortRemoteHardware   PortNum = 2
	PortPosition         PortNum = 3
	PortNodeInfo         PortNum = 4
	PortRouting          PortNum = 5
	PortAdmin            PortNum = 6
	PortTextMessageCompr PortNum = 7
	PortWaypoint         PortNum = 8
	PortAudio            PortNum = 9
	PortDetectionSensor  PortNum = 10
	PortReply            PortNum = 32
	PortIPTunnel         PortNum = 33
	PortPaxcounter       PortNum = 34
	PortSerial           PortNum = 64
	PortStoreForward     PortNum = 65
	PortRangeTest        PortNum = 66
	PortTelemetry        PortNum = 67
	PortZPS              PortNum = 68
	PortSimulator        PortNum = 69
	PortTraceroute       PortNum = 70
	PortNeighborInfo     PortNum = 71
	PortATAKPlugin       PortNum = 72
	PortMapReport        PortNum = 73
	PortPrivate          PortNum = 256
	PortATAKForwarder    PortNum = 257
)

var portNames = map[PortNum]string{
	PortUnknown:          "UNKNOWN_APP",
	PortTextMessage:      "TEXT_MESSAGE_APP",
	PortRemoteHardware:   "REMOTE_HARDWARE_APP",
	PortPosition:         "POSITION_APP",
	PortNodeInfo:         "NODEINFO_APP",
	PortRouting:          "ROUTING_APP",
	PortAdmin:            "ADMIN_APP",
	PortTextMessageCompr: "TEXT_MESSAGE_COMPRESSED_APP",
	PortWaypoint:         "WAYPOINT_APP",
	PortAudio:            "AUDIO_APP",
	PortDetectionSensor:  "DETECTION_SENSOR_APP",
	PortReply:            "REPLY_APP",
	PortIPTunnel:         "IP_TUNNEL_APP",
	PortPaxcounter:       "PAXCOUNTER_APP",
	PortSerial:           "SERIAL_APP",
	PortStoreForward:     "STORE_FORWARD_APP",
	PortRangeTest:        "RANGE_TEST_APP",
	PortTelemetry:        "TELEMETRY_APP",
	PortZPS:              "ZPS_APP",
	PortSimulator:        "SIMULATOR_APP",
	PortTraceroute:       "TRACEROUTE_APP",
	PortNeighborInfo:     "NEIGHBORINFO_APP",
	PortATAKPlugin:       "ATAK_PLUGIN",
	PortMapReport:        "MAP_REPORT_APP",
	PortPrivate:          "PRIVATE_APP",
	PortATAKForwarder:    "ATAK_FORWARDER",
}

// String returns the protobuf enum name, or the number for unknown ports.
func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return strconv.Itoa(int(p))
}

// Hardware model names for the radios most often seen on a mesh.
var hwModelNames = map[uint64]string{
	0:   "UNSET",
	1:   "TLORA_V2",
	2:   "TLORA_V1",
	3:   "TLORA_V2_1_1P6",
	4:   "TBEAM",
	5:   "HELTEC_V2_0",
	6:   "TBEAM_V0P7",
	7:   "T_ECHO",
	8:   "TLORA_V1_1P3",
	9:   "RAK4631",
	10:  "HELTEC_V2_1",
	11:  "HELTEC_V1",
	12:  "LILYGO_TBEAM_S3_CORE",
	13:  "RAK11200",
	14:  "NANO_G1",
	15:  "TLORA_V2_1_1P8",
	16:  "TLORA_T3_S3",
	17:  "NANO_G1_EXPLORER",
	18:  "NANO_G2_ULTRA",
	25:  "STATION_G1",
	26:  "RAK11310",
	43:  "HELTEC_V3",
	44:  "HELTEC_WSL_V3",
	48:  "HELTEC_WIRELESS_TRACKER",
	50:  "T_DECK",
	255: "PRIVATE_HW",
}

// HWModelName renders a hardware model enum value.
func HWModelName(v uint64) string {
	if name, ok := hwModelNames[v]; ok {
		return name
	}
	return "HW_" + strconv.FormatUint(v, 10)
}
