package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ardnew/softiec/pkg"
)

// CommandChannel is the drive's command and status channel.
const CommandChannel = 15

// Open opens channel ch on dev with the given name. An empty name sends no
// data bytes.
func (c *Controller) Open(dev uint8, ch uint8, name string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.open(dev, ch, name)
}

func (c *Controller) open(dev uint8, ch uint8, name string) error {
	if err := c.listen(dev, int(SecondaryOpen|ch&0x0F)); err != nil {
		return err
	}
	if name != "" {
		if _, err := c.send([]byte(name), true); err != nil {
			c.releaseAll()
			return fmt.Errorf("open %d,%d %q: %w", dev, ch, name, err)
		}
	}
	return c.unlisten()
}

// Close closes channel ch on dev.
func (c *Controller) Close(dev uint8, ch uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.close(dev, ch)
}

func (c *Controller) close(dev uint8, ch uint8) error {
	if err := c.listen(dev, int(SecondaryClose|ch&0x0F)); err != nil {
		return err
	}
	return c.unlisten()
}

// Load reads the named file from dev through channel 0.
func (c *Controller) Load(dev uint8, name string) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.open(dev, 0, name); err != nil {
		return nil, err
	}
	if err := c.talk(dev, int(SecondaryData)); err != nil {
		return nil, err
	}
	data, err := c.receive()
	if uerr := c.untalk(); err == nil {
		err = uerr
	}
	if cerr := c.close(dev, 0); err == nil {
		err = cerr
	}

	if errors.Is(err, pkg.ErrEmptyStream) {
		return nil, fmt.Errorf("load %q: %w", name, pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	pkg.LogDebug(pkg.ComponentHost, "loaded", "device", dev, "name", name, "size", len(data))
	return data, nil
}

// Save writes data to the named file on dev through channel 1.
func (c *Controller) Save(dev uint8, name string, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.open(dev, 1, name); err != nil {
		return err
	}
	if err := c.listen(dev, int(SecondaryData|1)); err != nil {
		return err
	}
	_, err := c.send(data, true)
	if uerr := c.unlisten(); err == nil {
		err = uerr
	}
	if cerr := c.close(dev, 1); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("save %q: %w", name, err)
	}
	pkg.LogDebug(pkg.ComponentHost, "saved", "device", dev, "name", name, "size", len(data))
	return nil
}

// Status reads the status line from the command channel of dev.
func (c *Controller) Status(dev uint8) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.talk(dev, int(SecondaryData|CommandChannel)); err != nil {
		return "", err
	}
	data, err := c.receive()
	if uerr := c.untalk(); err == nil {
		err = uerr
	}
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	return strings.TrimRight(string(data), "\r"), nil
}

// Command sends a command string to the command channel of dev.
func (c *Controller) Command(dev uint8, cmd string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.listen(dev, int(SecondaryData|CommandChannel)); err != nil {
		return err
	}
	_, err := c.send([]byte(cmd), true)
	if uerr := c.unlisten(); err == nil {
		err = uerr
	}
	if err != nil {
		return fmt.Errorf("command %q: %w", cmd, err)
	}
	return nil
}
