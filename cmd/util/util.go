package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/ikv/lib/common"
	"github.com/ValentinKolb/ikv/lib/store/index"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the flags of commands that open a store
func SetupStoreFlags(cmd *cobra.Command) {
	key := "path"
	cmd.PersistentFlags().String(key, "casket.kct", WrapString("Path of the repository. '+' and '-' are memory-only stores, '*.kct' files are btree snapshots, other paths are badger directories"))

	key = "mode"
	cmd.PersistentFlags().String(key, "a+", WrapString("Open mode: r (reader), r+ (writer), w+ (writer, create, truncate), a+ (writer, create) or decimal mode flags"))

	key = "workers"
	cmd.PersistentFlags().Int(key, 0, WrapString("Number of worker goroutines (0 uses GOMAXPROCS)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Log level (debug, info, warn, error)"))

	key = "metrics"
	cmd.PersistentFlags().Bool(key, false, WrapString("Print the collected metrics in Prometheus format to stderr on exit"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ikv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetConfig reads the store configuration from viper
func GetConfig() *common.Config {
	return &common.Config{
		Path:     viper.GetString("path"),
		Mode:     viper.GetString("mode"),
		Workers:  viper.GetInt("workers"),
		LogLevel: viper.GetString("log-level"),
		Metrics:  viper.GetBool("metrics"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// ParseIndexMap parses "key=value" arguments into an index map
func ParseIndexMap(args []string) (index.Map, error) {
	m := make(index.Map, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("index entry must have the form key=value: %q", arg)
		}
		m[k] = []byte(v)
	}
	return m, nil
}

// ParseRemovalSet converts index key arguments into a removal set
func ParseRemovalSet(args []string) index.RemovalSet {
	set := make(index.RemovalSet, 0, len(args))
	for _, arg := range args {
		set = append(set, []byte(arg))
	}
	return set
}
