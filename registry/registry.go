package registry

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/hwsigner-go/derivationpath"
	"github.com/status-im/hwsigner-go/deviceerror"
	"gopkg.in/yaml.v3"
)

var logger = log.New("package", "hwsigner-go/registry")

// UnknownAppName is reported for chains without a registry entry.
const UnknownAppName = "unknown network"

// Family identifies the signature scheme family, and so the device app protocol, of a network.
type Family string

const (
	FamilySubstrate Family = "substrate"
	FamilyEVM       Family = "evm"
)

var (
	ErrEmptySlug       = errors.New("network slug is empty")
	ErrEmptyAppName    = errors.New("network app name is empty")
	ErrDuplicateSlug   = errors.New("duplicate network slug")
	ErrUnknownFamily   = errors.New("unknown network family")
	ErrInvalidCoinType = errors.New("coin type must be lower than 2^31")
)

// Network maps a chain to the app that must be running on the device.
type Network struct {
	Slug     string `yaml:"slug"`
	AppName  string `yaml:"appName"`
	Family   Family `yaml:"family"`
	Cla      uint8  `yaml:"cla"`
	CoinType uint32 `yaml:"coinType"`
	ChainID  string `yaml:"chainId,omitempty"`
}

func (n Network) validate() error {
	if n.Slug == "" {
		return ErrEmptySlug
	}

	if n.AppName == "" {
		return fmt.Errorf("%s: %w", n.Slug, ErrEmptyAppName)
	}

	if n.Family != FamilySubstrate && n.Family != FamilyEVM {
		return fmt.Errorf("%s: %w %q", n.Slug, ErrUnknownFamily, n.Family)
	}

	if derivationpath.IsHardened(n.CoinType) {
		return fmt.Errorf("%s: %w", n.Slug, ErrInvalidCoinType)
	}

	return nil
}

// Chain identifies the chain a caller wants to sign for.
type Chain struct {
	Slug          string
	EVMCompatible bool
}

// Registry is an ordered, immutable set of networks.
type Registry struct {
	networks []Network
	bySlug   map[string]int
}

// New returns a registry holding networks in the given order.
func New(networks ...Network) (*Registry, error) {
	r := &Registry{
		networks: make([]Network, 0, len(networks)),
		bySlug:   make(map[string]int, len(networks)),
	}

	for _, n := range networks {
		if err := n.validate(); err != nil {
			return nil, err
		}

		if _, ok := r.bySlug[n.Slug]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlug, n.Slug)
		}

		r.bySlug[n.Slug] = len(r.networks)
		r.networks = append(r.networks, n)
	}

	return r, nil
}

// Networks returns a copy of the registered networks.
func (r *Registry) Networks() []Network {
	out := make([]Network, len(r.networks))
	copy(out, r.networks)
	return out
}

// Lookup returns the first network whose slug matches, or the first EVM network when the chain
// is EVM compatible.
func (r *Registry) Lookup(slug string, evmCompatible bool) (Network, error) {
	for _, n := range r.networks {
		if n.Slug == slug || (n.Family == FamilyEVM && evmCompatible) {
			return n, nil
		}
	}

	return Network{}, fmt.Errorf("%w: %q", deviceerror.ErrUnsupportedChain, slug)
}

// Resolve looks up the network serving chain.
func (r *Registry) Resolve(chain Chain) (Network, error) {
	return r.Lookup(chain.Slug, chain.EVMCompatible)
}

// AppName returns the device app name used for slug, or UnknownAppName.
func (r *Registry) AppName(slug string, evmCompatible bool) string {
	n, err := r.Lookup(slug, evmCompatible)
	if err != nil {
		return UnknownAppName
	}

	return n.AppName
}

// With returns a new registry where networks replace entries with the same slug
// and the remaining ones are appended.
func (r *Registry) With(networks ...Network) (*Registry, error) {
	merged := r.Networks()
	for _, n := range networks {
		if i, ok := r.bySlug[n.Slug]; ok {
			merged[i] = n
			continue
		}

		merged = append(merged, n)
	}

	return New(merged...)
}

type file struct {
	Networks []Network `yaml:"networks"`
}

// Load reads networks from YAML and merges them over the defaults.
func Load(rd io.Reader) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}

	logger.Debug("loaded registry overrides", "networks", len(f.Networks))

	return Default().With(f.Networks...)
}

// LoadFile reads networks from the YAML file at path and merges them over the defaults.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f)
}
