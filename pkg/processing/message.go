package processing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/censys/ospd-netstat/pkg/discovery"
	"github.com/censys/ospd-netstat/pkg/scan"
)

// ErrInvalidRequest marks a request that decoded but cannot be scanned.
var ErrInvalidRequest = errors.New("invalid scan request")

// ScanMessage is the JSON payload the controller publishes per target.
type ScanMessage struct {
	ScanID string `json:"scan_id"`
	Target struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Platform string `json:"platform"`
	} `json:"target"`
	Credential struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		PrivateKey string `json:"private_key"`
		Passphrase string `json:"passphrase"`
	} `json:"credential"`
	Options struct {
		DumpTable bool `json:"dump_table"`
		AllStates bool `json:"all_states"`
	} `json:"options"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// ParseScanMessage unmarshals the JSON payload into a ScanMessage.
func ParseScanMessage(raw []byte) (ScanMessage, error) {
	var msg ScanMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ScanMessage{}, fmt.Errorf("unmarshal scan request: %w", err)
	}
	return msg, nil
}

// Request validates the message and converts it into a scan.Request.
func (m ScanMessage) Request() (scan.Request, error) {
	switch {
	case m.ScanID == "":
		return scan.Request{}, fmt.Errorf("%w: missing scan_id", ErrInvalidRequest)
	case m.Target.Host == "":
		return scan.Request{}, fmt.Errorf("%w: missing target host", ErrInvalidRequest)
	case m.Target.Port < 0 || m.Target.Port > 65535:
		return scan.Request{}, fmt.Errorf("%w: ssh port %d out of range", ErrInvalidRequest, m.Target.Port)
	case m.Credential.Username == "":
		return scan.Request{}, fmt.Errorf("%w: missing credential username", ErrInvalidRequest)
	case m.Credential.Password == "" && m.Credential.PrivateKey == "":
		return scan.Request{}, fmt.Errorf("%w: credential has neither password nor private key", ErrInvalidRequest)
	case m.TimeoutSeconds < 0:
		return scan.Request{}, fmt.Errorf("%w: negative timeout", ErrInvalidRequest)
	}

	platform := discovery.Platform(m.Target.Platform)
	if platform != "" {
		if _, err := discovery.Command(platform); err != nil {
			return scan.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	req := scan.Request{
		ScanID: m.ScanID,
		Target: discovery.Target{
			Host:     m.Target.Host,
			Port:     m.Target.Port,
			Platform: platform,
		},
		Credential: discovery.Credential{
			Username:   m.Credential.Username,
			Password:   m.Credential.Password,
			Passphrase: m.Credential.Passphrase,
		},
		DumpTable: m.Options.DumpTable,
		AllStates: m.Options.AllStates,
		Timeout:   time.Duration(m.TimeoutSeconds) * time.Second,
	}
	if m.Credential.PrivateKey != "" {
		req.Credential.PrivateKey = []byte(m.Credential.PrivateKey)
	}
	return req, nil
}
