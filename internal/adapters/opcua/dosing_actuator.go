// Package opcua drives an external dosing unit that exposes pump and
// heater setpoints as OPC UA nodes.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session
// against the dosing unit.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	FlowNode        string        `yaml:"flow_node"`
	TempNode        string        `yaml:"temp_node"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "DharaFlow Device"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.FlowNode == "" || c.TempNode == "" {
		return errors.New("flow_node and temp_node are required")
	}
	return nil
}

// Actuator writes clamped setpoints to the dosing unit's nodes. Writes are
// best-effort: connection and write failures are logged, never surfaced,
// and the client reconnects on its own.
type Actuator struct {
	cfg      Config
	flowNode *ua.NodeID
	tempNode *ua.NodeID

	mu        sync.Mutex
	client    *opcua.Client
	connected bool
}

func New(cfg Config) (*Actuator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	flowNode, err := ua.ParseNodeID(cfg.FlowNode)
	if err != nil {
		return nil, fmt.Errorf("parse flow node %q: %w", cfg.FlowNode, err)
	}
	tempNode, err := ua.ParseNodeID(cfg.TempNode)
	if err != nil {
		return nil, fmt.Errorf("parse temp node %q: %w", cfg.TempNode, err)
	}
	return &Actuator{cfg: cfg, flowNode: flowNode, tempNode: tempNode}, nil
}

// Connect opens the session. Failure is not fatal: writes keep retrying
// the connection until the unit appears.
func (a *Actuator) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ensureLocked(ctx)
}

func (a *Actuator) SetFlow(mlPerMin float64) {
	v := clamp(mlPerMin, 0, domain.FlowOutputMax)
	if err := a.write(a.flowNode, v); err != nil {
		log.Printf("opcua: flow setpoint: %v", err)
	}
}

func (a *Actuator) SetTemp(celsius float64) {
	v := clamp(celsius, domain.TempOutputMin, domain.TempOutputMax)
	if err := a.write(a.tempNode, v); err != nil {
		log.Printf("opcua: temp setpoint: %v", err)
	}
}

func (a *Actuator) Off() {
	if err := a.write(a.flowNode, 0); err != nil {
		log.Printf("opcua: flow off: %v", err)
	}
	if err := a.write(a.tempNode, domain.TempOutputMin); err != nil {
		log.Printf("opcua: heater off: %v", err)
	}
}

func (a *Actuator) Close() error {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.connected = false
	a.mu.Unlock()

	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Actuator) write(node *ua.NodeID, value float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureLocked(ctx); err != nil {
		return err
	}

	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      node,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        ua.MustVariant(value),
			},
		}},
	}
	resp, err := a.client.Write(ctx, req)
	if err != nil {
		a.connected = false
		return fmt.Errorf("write %s: %w", node, err)
	}
	if len(resp.Results) > 0 && resp.Results[0] != ua.StatusOK {
		return fmt.Errorf("write %s rejected: %s", node, resp.Results[0])
	}
	return nil
}

func (a *Actuator) ensureLocked(ctx context.Context) error {
	if a.connected && a.client != nil {
		return nil
	}
	if a.client == nil {
		client, err := opcua.NewClient(a.cfg.Endpoint, a.buildClientOptions()...)
		if err != nil {
			return fmt.Errorf("opcua new client: %w", err)
		}
		a.client = client
	}
	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect: %w", err)
	}
	a.connected = true
	return nil
}

func (a *Actuator) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(a.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(a.cfg.SecurityPolicy)),
		opcua.ApplicationName(a.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if a.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(a.cfg.Username, a.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Actuator = (*Actuator)(nil)
