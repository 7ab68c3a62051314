package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"

	"github.com/danmuck/syncgraph/internal/comm/broker"
	"github.com/danmuck/syncgraph/internal/comm/rpc"
	"github.com/danmuck/syncgraph/internal/comm/tcp"
	"github.com/danmuck/syncgraph/internal/migrate"
	"github.com/danmuck/syncgraph/internal/sim"
	"github.com/danmuck/syncgraph/internal/synchro/hard"
)

func (c ClusterConfig) TCPConfig(rank int) tcp.Config {
	cfg := tcp.DefaultConfig()
	cfg.Rank = rank
	cfg.Peers = append([]string(nil), c.Peers...)
	cfg.TLS = tcp.TLSConfig{
		Enabled:            c.TLS.Enabled,
		Mutual:             c.TLS.Mutual,
		CertFile:           c.TLS.CertFile,
		KeyFile:            c.TLS.KeyFile,
		CAFile:             c.TLS.CAFile,
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
	if c.TLS.Production {
		cfg.SecurityMode = tcp.SecurityModeProduction
	}
	if c.Timeouts.Connect.Duration > 0 {
		cfg.ConnectTimeout = c.Timeouts.Connect.Duration
	}
	if c.Timeouts.Write.Duration > 0 {
		cfg.WriteTimeout = c.Timeouts.Write.Duration
	}
	if c.Timeouts.Close.Duration > 0 {
		cfg.CloseTimeout = c.Timeouts.Close.Duration
	}
	return cfg
}

func (c ClusterConfig) RPCConfig(rank int) (rpc.Config, error) {
	cfg := rpc.DefaultConfig()
	cfg.Rank = rank
	cfg.Peers = append([]string(nil), c.Peers...)
	if c.Timeouts.Close.Duration > 0 {
		cfg.CloseTimeout = c.Timeouts.Close.Duration
	}
	if c.TLS.Enabled {
		tlsCfg, err := c.grpcTLS()
		if err != nil {
			return rpc.Config{}, err
		}
		cfg.Creds = credentials.NewTLS(tlsCfg)
	}
	return cfg, nil
}

// grpcTLS builds one tls.Config used for both the serving and the dialing
// side of a rank.
func (c ClusterConfig) grpcTLS() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("rpc tls keypair: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		Certificates:       []tls.Certificate{cert},
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("rpc tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("rpc tls ca: no certificates in %s", c.TLS.CAFile)
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
		if c.TLS.Mutual || c.TLS.Production {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}
	return cfg, nil
}

func (c ClusterConfig) BrokerConfig(rank int) broker.Config {
	cfg := broker.DefaultConfig()
	cfg.URL = c.Broker.URL
	if c.Broker.Prefix != "" {
		cfg.Prefix = c.Broker.Prefix
	}
	if c.Broker.Prefetch > 0 {
		cfg.Prefetch = c.Broker.Prefetch
	}
	cfg.RunID = c.RunID
	cfg.Rank = rank
	cfg.Size = c.Size
	if c.Timeouts.Close.Duration > 0 {
		cfg.CloseTimeout = c.Timeouts.Close.Duration
	}
	return cfg
}

func (c ClusterConfig) HardConfig() hard.Config {
	cfg := hard.DefaultConfig()
	if c.Timeouts.IdlePoll.Duration > 0 {
		cfg.IdlePoll = c.Timeouts.IdlePoll.Duration
	}
	return cfg
}

func (c ClusterConfig) MigrateConfig() migrate.Config {
	cfg := migrate.DefaultConfig()
	if c.Timeouts.Quiesce.Duration > 0 {
		cfg.QuiesceTimeout = c.Timeouts.Quiesce.Duration
	}
	return cfg
}

func (c ClusterConfig) RunnerConfig() sim.Config {
	return sim.Config{
		RunID:           c.RunID,
		RebalanceEvery:  c.Sim.RebalanceEvery,
		CheckpointEvery: c.Sim.CheckpointEvery,
		Migrate:         c.MigrateConfig(),
	}
}
