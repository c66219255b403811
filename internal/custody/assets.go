package custody

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// Asset is one token on one network, with the identifiers each provider uses for it.
type Asset struct {
	Symbol   string `yaml:"symbol"`
	Network  string `yaml:"network"`
	Decimals int32  `yaml:"decimals"`

	// BlockRadar master wallet and asset ids
	WalletId string `yaml:"wallet_id"`
	AssetId  string `yaml:"asset_id"`

	// Coinbase Prime network details, e.g. ethereum / mainnet
	PrimeNetworkId   string `yaml:"prime_network_id"`
	PrimeNetworkType string `yaml:"prime_network_type"`

	PaycrestNetwork   string `yaml:"paycrest_network"`
	AlchemyPayNetwork string `yaml:"alchemypay_network"`
	// ReturnAddress receives Paycrest refunds; it must not belong to any user.
	ReturnAddress string `yaml:"return_address"`
}

func (a Asset) Key() string {
	return assetKey(a.Symbol, a.Network)
}

type assetsFile struct {
	Assets []Asset `yaml:"assets"`
}

type Registry struct {
	assets []Asset
	index  map[string]Asset
}

func assetKey(symbol, network string) string {
	return strings.ToUpper(symbol) + "-" + strings.ToLower(network)
}

func NewRegistry(assets []Asset) (*Registry, error) {
	r := &Registry{index: make(map[string]Asset, len(assets))}
	for i, asset := range assets {
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if asset.Network == "" {
			return nil, fmt.Errorf("asset at index %d missing network", i)
		}
		asset.Symbol = strings.ToUpper(asset.Symbol)
		asset.Network = strings.ToLower(asset.Network)
		if _, dup := r.index[asset.Key()]; dup {
			return nil, fmt.Errorf("asset %s configured twice", asset.Key())
		}
		r.index[asset.Key()] = asset
		r.assets = append(r.assets, asset)
	}
	sort.Slice(r.assets, func(i, j int) bool { return r.assets[i].Key() < r.assets[j].Key() })
	return r, nil
}

// LoadAssets reads the registry from a YAML file, relative to the working
// directory if not absolute. ${VAR} references are expanded from the environment.
func LoadAssets(path string) (*Registry, error) {
	assetsPath := path
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, path)
	}

	data, err := os.ReadFile(assetsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var config assetsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return NewRegistry(config.Assets)
}

func (r *Registry) Lookup(symbol, network string) (Asset, error) {
	asset, ok := r.index[assetKey(symbol, network)]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s on %s", ErrUnknownAsset, symbol, network)
	}
	return asset, nil
}

// FindByAssetId resolves a BlockRadar asset id back to the registry entry.
func (r *Registry) FindByAssetId(assetId string) (Asset, bool) {
	for _, asset := range r.assets {
		if asset.AssetId != "" && asset.AssetId == assetId {
			return asset, true
		}
	}
	return Asset{}, false
}

func (r *Registry) All() []Asset {
	out := make([]Asset, len(r.assets))
	copy(out, r.assets)
	return out
}

// Symbols returns each distinct symbol once, sorted.
func (r *Registry) Symbols() []string {
	seen := make(map[string]struct{})
	var symbols []string
	for _, asset := range r.assets {
		if _, ok := seen[asset.Symbol]; ok {
			continue
		}
		seen[asset.Symbol] = struct{}{}
		symbols = append(symbols, asset.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}
