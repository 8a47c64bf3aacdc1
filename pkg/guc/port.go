package guc

import (
	"strconv"
	"sync"
)

// Bounds and default of pg_web.port.
const (
	MinPort     = 10
	MaxPort     = 65000
	DefaultPort = 8080
)

// PortCell holds the listening port in both numeric and string form. The
// two are always updated together.
type PortCell struct {
	mu  sync.RWMutex
	num uint16
	str string
}

// NewPortCell returns a cell holding DefaultPort.
func NewPortCell() *PortCell {
	return &PortCell{num: DefaultPort, str: strconv.Itoa(DefaultPort)}
}

// Set validates v against [MinPort, MaxPort] and stores both forms.
// On error the cell is unchanged.
func (c *PortCell) Set(v int) error {
	if v < MinPort || v > MaxPort {
		return &RangeError{Name: PortVariable, Value: v, Min: MinPort, Max: MaxPort}
	}

	c.mu.Lock()
	c.num = uint16(v)
	c.str = strconv.Itoa(v)
	c.mu.Unlock()
	return nil
}

// Get returns the current port and its decimal string form.
func (c *PortCell) Get() (uint16, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.num, c.str
}
