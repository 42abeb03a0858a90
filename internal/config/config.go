// Package config parses the daemon's command-line configuration with
// github.com/alexflint/go-arg, the struct-tag CLI convention used
// elsewhere in the retrieval pack's board-controller daemons.
package config

import (
	"fmt"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

// Args is the full set of daemon flags.
type Args struct {
	SocketPath string `arg:"--socket" default:"/run/cardtelemetryd.sock" help:"admin transport socket path"`
	I2CBus     string `arg:"--i2c-bus" default:"/dev/i2c-0" help:"SMBus device path"`
	LogLevel   string `arg:"--log-level" default:"info" help:"debug, info, warning, error"`
}

// Parse reads os.Args into an Args, exiting the process on --help or
// a parse error (go-arg's standard behavior).
func Parse() Args {
	var a Args
	arg.MustParse(&a)
	return a
}

// ParseLogLevel converts the --log-level flag to a logrus.Level.
func ParseLogLevel(s string) (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid log level %q: %w", s, err)
	}
	return lvl, nil
}
