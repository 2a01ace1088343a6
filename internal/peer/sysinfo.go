package peer

import (
	"os"
	"runtime"

	"github.com/jmpoep/aspia/pkg/proto"
)

// currentVersion is reported in the session challenge and response.
var currentVersion = proto.Version{Major: 2, Minor: 7, Patch: 0}

func localOSType() proto.OSType {
	switch runtime.GOOS {
	case "windows":
		return proto.OSTypeWindows
	case "linux":
		return proto.OSTypeLinux
	case "darwin":
		return proto.OSTypeMacOSX
	default:
		return proto.OSTypeUnknown
	}
}

func computerName() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func processorCores() uint32 {
	return uint32(runtime.NumCPU())
}
