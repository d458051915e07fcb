package build

// Deployment controls whether the package behaves as a Production or
// Development build. The embedding application may flip this during
// initialization; the core itself never changes it, since build
// configuration is outside the scope of what the core owns.
var Deployment = Production

// LogLevel is the default level assigned to the stdout logger constructed by
// NewSubLogger for Development/LogTypeStdOut builds (typically test
// binaries).
var LogLevel = "info"

// Supported log file compressors.
const (
	Gzip = "gzip"
	Zstd = "zstd"
)

// logCompressors maps a compressor name to the file suffix rotated log
// files should carry once compressed with it.
var logCompressors = map[string]string{
	Gzip: "gz",
	Zstd: "zst",
}

// SupportedLogCompressor returns true if compressor names a compressor this
// package knows how to apply to rotated log files.
func SupportedLogCompressor(compressor string) bool {
	_, ok := logCompressors[compressor]
	return ok
}

// consoleLoggerCfg holds the options for the logger that writes to stdout
// and stderr.
type consoleLoggerCfg struct {
	LoggerConfig
	Style bool `long:"style" description:"Add various color styles to the console output."`
}

// defaultConsoleLoggerCfg returns the default console logger configuration.
func defaultConsoleLoggerCfg() *consoleLoggerCfg {
	return &consoleLoggerCfg{
		LoggerConfig: LoggerConfig{
			CallSite: callSiteOff,
		},
	}
}
