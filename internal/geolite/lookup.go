package geolite

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"tibridge/internal/support"
)

const defaultCountryDBPath = "data/geolite/GeoLite2-Country.mmdb"

// Countries resolves addresses to ISO country codes. A zero or unloaded
// Countries answers "" for every lookup.
type Countries struct {
	mu     sync.RWMutex
	path   string
	reader *geoip2.Reader
}

// CountryDBPath returns GEOLITE_COUNTRY_DB or the default data path.
func CountryDBPath() string {
	return support.GetEnv("GEOLITE_COUNTRY_DB", defaultCountryDBPath)
}

// OpenCountries loads the database at path. A missing file is not an error:
// enrichment stays off until Reload finds one.
func OpenCountries(path string) (*Countries, error) {
	c := &Countries{path: path}
	if err := c.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return c, err
	}
	return c, nil
}

// Reload reopens the database file and swaps it in.
func (c *Countries) Reload() error {
	if c == nil || c.path == "" {
		return nil
	}
	reader, err := geoip2.Open(c.path)
	if err != nil {
		return fmt.Errorf("geolite: open %s: %w", c.path, err)
	}

	c.mu.Lock()
	old := c.reader
	c.reader = reader
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (c *Countries) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reader != nil
}

// Country returns the ISO code for address, or "" when unknown.
func (c *Countries) Country(address string) string {
	if c == nil {
		return ""
	}
	ip := net.ParseIP(address)
	if ip == nil {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.reader == nil {
		return ""
	}
	record, err := c.reader.Country(ip)
	if err != nil || record == nil {
		return ""
	}
	return record.Country.IsoCode
}

func (c *Countries) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.reader = nil
	return err
}
