package gseqcmd

import (
	"errors"
	"fmt"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/viper"
)

type feederConfig struct {
	Interval   time.Duration
	TxsPerTick int
	TxSize     int
	Seed       uint64
}

func loadFeederConfig(v *viper.Viper) feederConfig {
	return feederConfig{
		Interval:   v.GetDuration("feed-interval"),
		TxsPerTick: v.GetInt("feed-txs"),
		TxSize:     v.GetInt("feed-tx-size"),
		Seed:       v.GetUint64("feed-seed"),
	}
}

type runConfig struct {
	NodeName string

	// Empty for an in-process builder.
	BuilderAddr string

	Validators  uint64
	StartHeight uint64
	Heights     uint64

	ProposalTimeout   time.Duration
	ValidationTimeout time.Duration

	HTTPAddr     string
	Libp2pListen string
	Libp2pPeers  []peer.AddrInfo

	Feeder feederConfig
}

func loadRunConfig(v *viper.Viper) (runConfig, error) {
	cfg := runConfig{
		NodeName: v.GetString("node-name"),

		BuilderAddr: v.GetString("builder-addr"),

		Validators:  v.GetUint64("validators"),
		StartHeight: v.GetUint64("start-height"),
		Heights:     v.GetUint64("heights"),

		ProposalTimeout:   v.GetDuration("proposal-timeout"),
		ValidationTimeout: v.GetDuration("validation-timeout"),

		HTTPAddr:     v.GetString("http-addr"),
		Libp2pListen: v.GetString("libp2p-listen"),

		Feeder: loadFeederConfig(v),
	}

	if cfg.NodeName == "" {
		cfg.NodeName = petname.Generate(2, "-")
	}

	var result *multierror.Error
	if cfg.Validators == 0 {
		result = multierror.Append(result, errors.New("validators must be at least 1"))
	}
	if cfg.StartHeight == 0 {
		result = multierror.Append(result, errors.New("start-height must be at least 1"))
	}
	if cfg.ProposalTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("proposal-timeout must be positive (got %s)", cfg.ProposalTimeout))
	}
	if cfg.ValidationTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("validation-timeout must be positive (got %s)", cfg.ValidationTimeout))
	}
	peers := v.GetStringSlice("libp2p-peers")
	if len(peers) > 0 && cfg.Libp2pListen == "" {
		result = multierror.Append(result, errors.New("libp2p-peers requires libp2p-listen"))
	}
	for _, addr := range peers {
		ai, err := peer.AddrInfoFromString(addr)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid libp2p peer %q: %w", addr, err))
			continue
		}
		cfg.Libp2pPeers = append(cfg.Libp2pPeers, *ai)
	}

	if err := result.ErrorOrNil(); err != nil {
		return runConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
