package linklayer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/jellydator/ttlcache/v3"
)

const defaultMaxUnknownInterfaces = 1024

type RegistryConfig struct {
	Logger *slog.Logger

	// MaxUnknownInterfaces bounds the number of retained unrecognized interface names.
	// The least recently registered entries are evicted first.
	MaxUnknownInterfaces uint64
}

func (c *RegistryConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.MaxUnknownInterfaces == 0 {
		c.MaxUnknownInterfaces = defaultMaxUnknownInterfaces
	}
	return nil
}

// Registry records the link layer of each registered network, and the interface name of
// networks whose link layer was not recognized.
type Registry struct {
	log *slog.Logger

	mu         sync.RWMutex
	linkLayers map[int32]LinkLayer

	unknown *ttlcache.Cache[int32, string]
}

func NewRegistry(cfg *RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Registry{
		log:        cfg.Logger,
		linkLayers: make(map[int32]LinkLayer),
		unknown: ttlcache.New(
			ttlcache.WithCapacity[int32, string](cfg.MaxUnknownInterfaces),
			ttlcache.WithDisableTouchOnHit[int32, string](),
		),
	}, nil
}

// Register classifies ifname and records it for netID, overwriting a previous registration.
func (r *Registry) Register(netID int32, ifname string) LinkLayer {
	link := Classify(ifname)

	r.mu.Lock()
	r.linkLayers[netID] = link
	r.mu.Unlock()

	if link == Unknown {
		r.unknown.Set(netID, ifname, ttlcache.NoTTL)
	} else {
		r.unknown.Delete(netID)
	}
	r.log.Debug("registered network link layer", "netID", netID, "ifname", ifname, "linkLayer", link)
	return link
}

// Unregister forgets netID.
func (r *Registry) Unregister(netID int32) {
	r.mu.Lock()
	delete(r.linkLayers, netID)
	r.mu.Unlock()
	r.unknown.Delete(netID)
}

// LinkLayer returns the link layer registered for netID.
func (r *Registry) LinkLayer(netID int32) (LinkLayer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.linkLayers[netID]
	return link, ok
}

// UnknownInterface returns the retained interface name of an unrecognized network.
func (r *Registry) UnknownInterface(netID int32) (string, bool) {
	item := r.unknown.Get(netID)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// UnknownInterfaces returns the number of retained unrecognized interface names.
func (r *Registry) UnknownInterfaces() int {
	return r.unknown.Len()
}

func (r *Registry) Dump(w io.Writer) {
	r.mu.RLock()
	netIDs := make([]int32, 0, len(r.linkLayers))
	for netID := range r.linkLayers {
		netIDs = append(netIDs, netID)
	}
	links := make(map[int32]LinkLayer, len(r.linkLayers))
	for netID, link := range r.linkLayers {
		links[netID] = link
	}
	r.mu.RUnlock()
	sort.Slice(netIDs, func(i, j int) bool { return netIDs[i] < netIDs[j] })

	fmt.Fprintln(w, "link layers:")
	for _, netID := range netIDs {
		if ifname, ok := r.UnknownInterface(netID); ok {
			fmt.Fprintf(w, "  netId=%d %s ifname=%s\n", netID, links[netID], ifname)
			continue
		}
		fmt.Fprintf(w, "  netId=%d %s\n", netID, links[netID])
	}
}
