package client

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all tunables of a single client instance.
type ClientConfig struct {
	// Credentials; authentication is skipped when Username is empty
	Username string
	Password string

	// Capacity of the shared and writer buffers
	SharedBufferSize int

	// Fraction (0 < f <= 1) of SharedBufferSize above which a packet
	// bypasses the shared buffer and is written directly to the socket
	DirectWriteFactor float64

	// Max wait for the buffer lock, for buffer room and for the write
	// lock. Zero fails immediately when the write path is contended.
	WriteTimeout time.Duration

	// Default per-request deadline
	OperationTimeout time.Duration

	// Max wait for the initial connection before the constructor fails
	InitTimeout time.Duration

	// Initial capacity hint for the request registry
	PredictedFutures int

	// Dial policy, applied to configurable socket providers
	RetryCount        int
	ConnectionTimeout time.Duration

	// Selects the CALL opcode over the backward-compatible OLD_CALL
	UseNewCall bool
}

// DefaultClientConfig returns the default configuration. A client fills
// zero or out-of-range fields from it, except WriteTimeout (zero is kept as
// the fail-fast setting), RetryCount and UseNewCall, which keep the values
// given.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SharedBufferSize:  4 * 1024 * 1024,
		DirectWriteFactor: 0.5,
		WriteTimeout:      60 * time.Second,
		OperationTimeout:  time.Second,
		InitTimeout:       60 * time.Second,
		PredictedFutures:  128,
		RetryCount:        0,
		ConnectionTimeout: 2 * time.Second,
		UseNewCall:        true,
	}
}

// withDefaults fills unset fields from DefaultClientConfig
func (c ClientConfig) withDefaults() ClientConfig {
	defaults := DefaultClientConfig()
	if c.SharedBufferSize <= 0 {
		c.SharedBufferSize = defaults.SharedBufferSize
	}
	if c.DirectWriteFactor <= 0 || c.DirectWriteFactor > 1 {
		c.DirectWriteFactor = defaults.DirectWriteFactor
	}
	// WriteTimeout is kept as configured: zero is a valid fail-fast setting
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaults.OperationTimeout
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = defaults.InitTimeout
	}
	if c.PredictedFutures <= 0 {
		c.PredictedFutures = defaults.PredictedFutures
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = defaults.ConnectionTimeout
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Connection")
	user := c.Username
	if user == "" {
		user = "<guest>"
	}
	addField("Username", user)
	addField("Init Timeout", c.InitTimeout.String())
	addField("Connect Timeout", c.ConnectionTimeout.String())
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	addSection("Write Path")
	addField("Shared Buffer Size", fmt.Sprintf("%d bytes", c.SharedBufferSize))
	addField("Direct Write Factor", strconv.FormatFloat(c.DirectWriteFactor, 'f', -1, 64))
	addField("Write Timeout", c.WriteTimeout.String())

	addSection("Requests")
	addField("Operation Timeout", c.OperationTimeout.String())
	addField("Predicted Futures", strconv.Itoa(c.PredictedFutures))
	addField("Use New Call", strconv.FormatBool(c.UseNewCall))

	return sb.String()
}

// --------------------------------------------------------------------------
// Cluster configuration struct
// --------------------------------------------------------------------------

// ClusterConfig extends ClientConfig with the discovery settings of the
// cluster overlay.
type ClusterConfig struct {
	ClientConfig

	// Name of the stored function returning the current member addresses;
	// discovery is disabled when empty
	DiscoveryEntryFunction string

	// Interval between discovery runs
	DiscoveryDelay time.Duration
}

// DefaultDiscoveryDelay is used when ClusterConfig.DiscoveryDelay is unset.
const DefaultDiscoveryDelay = 60 * time.Second

// String returns a formatted string representation of the configuration
func (c *ClusterConfig) String() string {
	var sb strings.Builder
	sb.WriteString(c.ClientConfig.String())
	sb.WriteString("\nDISCOVERY\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Entry Function", c.DiscoveryEntryFunction))
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Delay", c.DiscoveryDelay.String()))
	return sb.String()
}
