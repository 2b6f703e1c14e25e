package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/network"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
)

// TopologyConfig is the positional <config-file> spec.md §6 names:
// "topology and LP-count file". Line grammar, one key=value pair per
// line, grounded on the teacher's key=value workload_config.go-adjacent
// parsing style but kept to its own small reader rather than pulling
// in yaml.v3 for a handful of scalar topology constants.
type TopologyConfig struct {
	NumRouters int
	NumVCs     int

	ChunkSizeBytes   int64
	MeanNS           float64
	JitterNoise      float64
	CreditDelayBytes float64
	ChannelBandwidth float64

	BufferCN     int
	BufferLocal  int
	BufferGlobal int
}

// DefaultTopologyConfig fills in every tunable the config file may
// omit, mirroring network.DefaultFabricConfig/DefaultBufferSizes.
func DefaultTopologyConfig() TopologyConfig {
	fc := network.DefaultFabricConfig()
	bs := network.DefaultBufferSizes()
	return TopologyConfig{
		NumRouters:       8,
		NumVCs:           2,
		ChunkSizeBytes:   fc.ChunkSize,
		MeanNS:           fc.MeanNS,
		JitterNoise:      fc.JitterNoise,
		CreditDelayBytes: fc.CreditDelayBytes,
		ChannelBandwidth: fc.ChannelBandwidth,
		BufferCN:         bs.CN,
		BufferLocal:      bs.Local,
		BufferGlobal:     bs.Global,
	}
}

// ParseTopologyConfigFile reads path into a TopologyConfig, starting
// from DefaultTopologyConfig and overriding whichever keys appear.
func ParseTopologyConfigFile(path string) (TopologyConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return TopologyConfig{}, fmt.Errorf("cmd: opening config file %q: %w", path, err)
	}
	defer f.Close()

	cfg := DefaultTopologyConfig()
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return TopologyConfig{}, fmt.Errorf("config file %q line %d: expected key=value, got %q", path, lineNo, line)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if err := setConfigField(&cfg, key, val); err != nil {
			return TopologyConfig{}, fmt.Errorf("config file %q line %d: %w", path, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return TopologyConfig{}, err
	}
	return cfg, nil
}

func setConfigField(cfg *TopologyConfig, key, val string) error {
	switch key {
	case "num_routers":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		cfg.NumRouters = n
	case "num_vcs":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		cfg.NumVCs = n
	case "chunk_size_bytes":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return err
		}
		cfg.ChunkSizeBytes = n
	case "mean_ns":
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		cfg.MeanNS = n
	case "jitter_noise":
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		cfg.JitterNoise = n
	case "credit_delay_bytes":
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		cfg.CreditDelayBytes = n
	case "channel_bandwidth":
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		cfg.ChannelBandwidth = n
	case "buffer_cn":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		cfg.BufferCN = n
	case "buffer_local":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		cfg.BufferLocal = n
	case "buffer_global":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		cfg.BufferGlobal = n
	default:
		return fmt.Errorf("unrecognized config key %q", key)
	}
	return nil
}

// Params derives topology.Params, failing per spec.md §7's
// "topology parameter inconsistency" fatal class.
func (c TopologyConfig) Params() (topology.Params, error) {
	return topology.NewParams(c.NumRouters, c.NumVCs)
}

// FabricConfig derives the network.FabricConfig the config file
// overrides. disableCompute is CLI --disable_compute, spec.md §6.
func (c TopologyConfig) FabricConfig(disableCompute bool) network.FabricConfig {
	return network.FabricConfig{
		ChunkSize:        c.ChunkSizeBytes,
		MeanNS:           c.MeanNS,
		JitterNoise:      c.JitterNoise,
		CreditDelayBytes: c.CreditDelayBytes,
		ChannelBandwidth: c.ChannelBandwidth,
		DisableDelay:     disableCompute,
	}
}

// BufferSizes derives the network.BufferSizes the config file overrides.
func (c TopologyConfig) BufferSizes() network.BufferSizes {
	return network.BufferSizes{CN: c.BufferCN, Local: c.BufferLocal, Global: c.BufferGlobal}
}
