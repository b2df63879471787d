// Package endpoints holds the node endpoint catalog and reachability probes.
package endpoints

import (
	"errors"
	"strings"
	"sync"
)

// Endpoint is immutable once constructed.
type Endpoint struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"display_name" json:"displayName"`
	URL         string `yaml:"url" json:"url"`
	ExplorerURL string `yaml:"explorer_url" json:"explorerUrl,omitempty"`
}

var (
	ErrDuplicateEndpoint = errors.New("endpoint id already exists")
	ErrUnknownEndpoint   = errors.New("unknown endpoint id")
	ErrEmptyCatalog      = errors.New("endpoint catalog is empty")
)

// Catalog is an ordered endpoint list with a selection. Persistence is the
// host's concern.
type Catalog struct {
	mu       sync.Mutex
	list     []Endpoint
	selected string
}

func NewCatalog(eps []Endpoint) (*Catalog, error) {
	c := &Catalog{}
	for _, ep := range eps {
		if err := c.Add(ep); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) Add(ep Endpoint) error {
	ep.ID = strings.TrimSpace(ep.ID)
	ep.URL = strings.TrimSpace(ep.URL)
	if ep.ID == "" || ep.URL == "" {
		return errors.New("endpoint id and url are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.list {
		if existing.ID == ep.ID {
			return ErrDuplicateEndpoint
		}
	}
	c.list = append(c.list, ep)
	if c.selected == "" {
		c.selected = ep.ID
	}
	return nil
}

// Remove drops an endpoint. Removing the selected one falls back to the
// first remaining entry.
func (c *Catalog) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ep := range c.list {
		if ep.ID != id {
			continue
		}
		c.list = append(c.list[:i], c.list[i+1:]...)
		if c.selected == id {
			c.selected = ""
			if len(c.list) > 0 {
				c.selected = c.list[0].ID
			}
		}
		return nil
	}
	return ErrUnknownEndpoint
}

func (c *Catalog) Select(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.list {
		if ep.ID == id {
			c.selected = id
			return nil
		}
	}
	return ErrUnknownEndpoint
}

func (c *Catalog) Selected() (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.list {
		if ep.ID == c.selected {
			return ep, nil
		}
	}
	return Endpoint{}, ErrEmptyCatalog
}

func (c *Catalog) All() []Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Endpoint, len(c.list))
	copy(out, c.list)
	return out
}
