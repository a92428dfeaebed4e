// ABOUTME: Sensor type codes reported by the acquisition device
// ABOUTME: Maps numeric class codes to names and back
package device

import "strings"

type SensorType int

const (
	SensorUnknown SensorType = 0
	SensorEMG     SensorType = 1
	SensorECG     SensorType = 2
	SensorEDA     SensorType = 4
	SensorBVP     SensorType = 5
	SensorRESP    SensorType = 6
	SensorEEG     SensorType = 9
	SensorTEMP    SensorType = 15
)

var sensorNames = map[SensorType]string{
	0:  "UNKNOWN_CLASS",
	1:  "EMG",
	2:  "ECG",
	3:  "LIGHT",
	4:  "EDA",
	5:  "BVP",
	6:  "RESP",
	7:  "XYZ",
	8:  "SYNC",
	9:  "EEG",
	10: "SYNC_ADAP",
	11: "SYNC_LED",
	12: "SYNC_SW",
	13: "USB",
	14: "FORCE",
	15: "TEMP",
	16: "VPROBE",
	17: "BREAKOUT",
	18: "OXIMETER",
	19: "GONI",
	20: "ACT",
	21: "EOG",
	22: "EGG",
	23: "ANSA",
	26: "OSL",
}

func (t SensorType) String() string {
	if name, ok := sensorNames[t]; ok {
		return name
	}
	return sensorNames[SensorUnknown]
}

// ParseSensorType looks up a sensor class by name, case-insensitively.
func ParseSensorType(name string) (SensorType, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for t, n := range sensorNames {
		if n == name {
			return t, true
		}
	}
	return SensorUnknown, false
}
