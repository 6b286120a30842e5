// Package serial opens the byte transport to the effects slave.
package serial

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaud is used when Config.Baud is zero. USB CDC ignores it.
	DefaultBaud = 115200

	// DefaultReadTimeout bounds each Read so the receive loop can notice Close.
	DefaultReadTimeout = 50 * time.Millisecond
)

// ErrNotFound is returned when no port matches the requested USB IDs.
var ErrNotFound = errors.New("serial: no matching port")

// Config selects and configures a port. Device wins over VID/PID.
type Config struct {
	Device      string
	VID         string
	PID         string
	Baud        int
	ReadTimeout time.Duration
}

// PortInfo describes one serial port on the system.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

func (p PortInfo) String() string {
	if !p.USB {
		return p.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", p.Name, p.VID, p.PID)
	if p.Product != "" {
		s += " " + p.Product
	}
	if p.Serial != "" {
		s += " serial=" + p.Serial
	}
	return s
}

// List returns the serial ports with their USB details where known.
func List() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		})
	}
	return ports, nil
}

// Find returns the device name of the first USB port with the given IDs.
func Find(vid, pid string) (string, error) {
	ports, err := List()
	if err != nil {
		return "", err
	}
	return match(ports, vid, pid)
}

func match(ports []PortInfo, vid, pid string) (string, error) {
	for _, p := range ports {
		if p.USB && strings.EqualFold(p.VID, vid) && strings.EqualFold(p.PID, pid) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %s:%s", ErrNotFound, vid, pid)
}

// Open opens the port described by cfg, resolving it from VID/PID when no
// device path is given. Stale input is discarded before returning.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	device := cfg.Device
	if device == "" {
		if cfg.VID == "" || cfg.PID == "" {
			return nil, errors.New("serial: no device or VID/PID configured")
		}
		d, err := Find(cfg.VID, cfg.PID)
		if err != nil {
			return nil, err
		}
		device = d
	}

	port, err := bugst.Open(device, &bugst.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush %s: %w", device, err)
	}
	return port, nil
}
