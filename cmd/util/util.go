// Package util provides shared helpers for the boxkv CLI commands
package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/boxKV/client"
	"github.com/ValentinKolb/boxKV/common"
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

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds common connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoints"
	cmd.PersistentFlags().String(key, "127.0.0.1:3301", WrapString("The address of the server. Multiple cluster members can be specified as a comma-separated list"))

	key = "user"
	cmd.PersistentFlags().String(key, "", WrapString("Username for authentication"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password for authentication"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("Per-operation timeout in seconds"))

	key = "init-timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("How long to wait for the initial connection in seconds"))

	key = "write-timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("Write path timeout in seconds"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many connection attempts per reconnection episode"))

	key = "buffer-size"
	cmd.PersistentFlags().Int(key, 4096, WrapString("Shared write buffer size in KB"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Log level: debug, info, warn or error"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("boxkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() client.ClientConfig {
	config := client.DefaultClientConfig()
	config.Username = viper.GetString("user")
	config.Password = viper.GetString("password")
	config.OperationTimeout = time.Duration(viper.GetInt("timeout")) * time.Second
	config.InitTimeout = time.Duration(viper.GetInt("init-timeout")) * time.Second
	config.WriteTimeout = time.Duration(viper.GetInt("write-timeout")) * time.Second
	config.RetryCount = viper.GetInt("retries")
	config.SharedBufferSize = viper.GetInt("buffer-size") * 1024
	return config
}

// GetEndpoints reads the configured server addresses
func GetEndpoints() []string {
	return strings.Split(viper.GetString("endpoints"), ",")
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// NewClient connects using the configured endpoints: a plain client for a
// single address, a cluster client for several
func NewClient() (*client.Client, func(), error) {
	common.InitLoggers(viper.GetString("log-level"))

	endpoints := GetEndpoints()
	config := GetClientConfig()

	if len(endpoints) == 1 {
		c, err := client.NewClient(endpoints[0], config)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}

	cc, err := client.NewClusterClient(client.ClusterConfig{ClientConfig: config}, endpoints...)
	if err != nil {
		return nil, nil, err
	}
	return cc.Client, cc.Close, nil
}
