package common

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/db/engines/poly"
	"github.com/ValentinKolb/ikv/lib/store"
)

// Config holds the settings of a command that opens a store.
type Config struct {
	// Path of the repository, see poly.Select for the engine selection
	Path string
	// Mode is a mode string ("r", "r+", "w+", "a+") or decimal mode flags
	Mode string
	// Workers is the number of worker goroutines (<= 0 uses GOMAXPROCS)
	Workers int

	// Logging configuration
	LogLevel string

	// Metrics prints the collected metrics in Prometheus format on exit
	Metrics bool
}

// OpenMode parses Mode into engine mode flags
func (c *Config) OpenMode() (db.Mode, error) {
	return store.ParseMode(c.Mode)
}

// EffectiveWorkers returns the number of workers a scheduler built from c will use
func (c *Config) EffectiveWorkers() int {
	if c.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Store")
	addField("Path", c.Path)
	impl, _ := poly.Select(c.Path)
	addField("Engine", string(impl))
	addField("Mode", c.Mode)

	addSection("Scheduler")
	addField("Workers", strconv.Itoa(c.EffectiveWorkers()))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Metrics", strconv.FormatBool(c.Metrics))

	return sb.String()
}
