package main

import (
	"flag"
	"strconv"

	"github.com/banshee-data/os32c/internal/config"
)

// hostFlags are the command-line settings. Flags that are set override the
// configuration file.
type hostFlags struct {
	configPath  *string
	replayPath  *string
	realtime    *bool
	showVersion *bool
	logStderr   *bool
}

func registerFlags(fs *flag.FlagSet) *hostFlags {
	f := &hostFlags{
		configPath:  fs.String("config", "", "Path to a .json or .yaml host configuration file"),
		replayPath:  fs.String("replay", "", "Replay measurement datagrams from a pcap/pcapng file instead of a live scanner"),
		realtime:    fs.Bool("realtime", true, "Pace replayed datagrams by their capture timestamps"),
		showVersion: fs.Bool("version", false, "Print version and exit"),
		logStderr:   fs.Bool("log-stderr", true, "Also log to stderr when -log-file is set"),
	}

	// overrides; defaults live in config.HostConfig
	fs.String("host", "", "Scanner address (default 192.168.1.1)")
	fs.String("frame-id", "", "Frame id stamped on published scans (default laser)")
	fs.String("start-angle", "", "Counter-clockwise end of the scan in radians")
	fs.String("end-angle", "", "Clockwise end of the scan in radians")
	fs.String("range-format", "", "Range report format name or code (default tof_4ps)")
	fs.String("reflectivity-format", "", "Reflectivity report format name or code (default tot_encoded)")
	fs.String("mode", "", "Acquisition mode: poll or stream (default poll)")
	fs.String("keepalive-interval", "", "Keepalive period while streaming (default 1s)")
	fs.String("io-timeout", "", "Per-request and per-datagram timeout (default 2s)")
	fs.String("io-port", "", "UDP port for connected I/O (default 2222)")
	fs.String("reconnect-delay", "", "Delay before reopening a failed session (default 5s)")
	fs.String("listen", "", "HTTP debug listen address (default :8082)")
	fs.String("grpc-listen", "", "gRPC health listen address (default :50052)")
	fs.String("forward", "", "UDP address to forward encoded scans to")
	fs.String("db-path", "", "Session journal database path (default os32c_sessions.db)")
	fs.String("stats-interval", "", "Period between throughput log lines (default 10s)")
	fs.String("log-file", "", "Rotate logs into this file")
	return f
}

// applyOverrides copies every flag that was set on the command line into cfg.
func applyOverrides(fs *flag.FlagSet, cfg *config.HostConfig) error {
	var firstErr error
	setErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	fs.Visit(func(fl *flag.Flag) {
		v := fl.Value.String()
		switch fl.Name {
		case "host":
			cfg.Host = &v
		case "frame-id":
			cfg.FrameID = &v
		case "start-angle":
			a, err := strconv.ParseFloat(v, 64)
			setErr(err)
			cfg.StartAngle = &a
		case "end-angle":
			a, err := strconv.ParseFloat(v, 64)
			setErr(err)
			cfg.EndAngle = &a
		case "range-format":
			cfg.RangeFormat = &v
		case "reflectivity-format":
			cfg.ReflectivityFormat = &v
		case "mode":
			cfg.Mode = &v
		case "keepalive-interval":
			cfg.KeepaliveInterval = &v
		case "io-timeout":
			cfg.IOTimeout = &v
		case "io-port":
			p, err := strconv.Atoi(v)
			setErr(err)
			cfg.IOPort = &p
		case "reconnect-delay":
			cfg.ReconnectDelay = &v
		case "listen":
			cfg.Listen = &v
		case "grpc-listen":
			cfg.GRPCListen = &v
		case "forward":
			cfg.ForwardAddr = &v
		case "db-path":
			cfg.DBPath = &v
		case "stats-interval":
			cfg.StatsInterval = &v
		case "log-file":
			cfg.LogFile = &v
		}
	})
	if firstErr != nil {
		return firstErr
	}
	return cfg.Validate()
}
