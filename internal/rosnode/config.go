package rosnode

import (
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/tcpros"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// DefaultMasterURI is used when ROS_MASTER_URI is unset.
const DefaultMasterURI = "http://localhost:11311/"

var (
	// ErrEmptyName is returned when the node name is empty
	ErrEmptyName = errors.New("node name cannot be empty")
	// ErrEmptyMasterURI is returned when the registrar URL is empty
	ErrEmptyMasterURI = errors.New("master URI cannot be empty")
	// ErrInvalidPort is returned when a port is outside 0-65535
	ErrInvalidPort = errors.New("port must be between 0 and 65535")
)

// Config represents configuration for a Node
type Config struct {
	// Name is the node's graph name, e.g. "/listener"
	Name string

	// MasterURI is the registrar endpoint URL
	MasterURI string

	// Hostname is advertised to peers. Empty means ResolveHostname with the
	// process environment.
	Hostname string

	// Pid is reported to peers. Zero means os.Getpid().
	Pid int

	// RPCPort is the negotiation endpoint port, 0 picks a free one
	RPCPort int

	// StreamPort is the inbound stream listener port, 0 picks a free one
	StreamPort int

	// RPCTimeout bounds each registrar and negotiation call
	RPCTimeout time.Duration

	// DefaultQueueSize is the message buffer used when a subscription does
	// not specify one
	DefaultQueueSize int

	Logger *zap.Logger

	// Dial creates rpc clients for the registrar and for peers. Nil means gRPC.
	Dial rpc.Dialer

	// Endpoint serves the negotiation API. Nil means a gRPC server.
	Endpoint rpc.Server

	// Connector opens streams to publishers. Nil means plain TCP.
	Connector tcpros.Connector
}

// NewConfig creates a Node configuration with safe defaults
func NewConfig(name, masterURI string) *Config {
	c := &Config{Name: name, MasterURI: masterURI}
	c.SetDefaults()
	return c
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.MasterURI == "" {
		return ErrEmptyMasterURI
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 || c.StreamPort < 0 || c.StreamPort > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// SetDefaults fills unset optional fields. Collaborators (Dial, Endpoint,
// Connector) are filled in by New.
func (c *Config) SetDefaults() {
	if c.Hostname == "" {
		c.Hostname = ResolveHostname(os.Getenv, OSHostname, SystemInterfaces)
	}
	if c.Pid == 0 {
		c.Pid = os.Getpid()
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 10 * time.Second
	}
	if c.DefaultQueueSize <= 0 {
		c.DefaultQueueSize = 100
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// MasterURIFromEnv returns ROS_MASTER_URI or DefaultMasterURI.
func MasterURIFromEnv() string {
	if uri := os.Getenv("ROS_MASTER_URI"); uri != "" {
		return uri
	}
	return DefaultMasterURI
}
