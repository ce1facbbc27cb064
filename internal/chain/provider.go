package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Reader is the read-only subset of an EVM client used to observe state before acting.
type Reader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Provider hands out a Reader for a chain.
type Provider interface {
	Reader(ctx context.Context, chain id.Chain) (Reader, error)
}

// RPCProvider dials one ethclient per chain on first use and reuses it afterwards.
// Every call through a returned Reader waits on the chain's rate limiter.
type RPCProvider struct {
	endpoints registry.RPCEndpoints
	limit     rate.Limit
	burst     int
	logger    *logrus.Logger

	clientMutex sync.RWMutex
	clients     map[int64]*limitedReader
	dial        func(ctx context.Context, url string) (*ethclient.Client, error)
}

// NewRPCProvider builds a provider. A non-positive limit disables rate limiting.
func NewRPCProvider(endpoints registry.RPCEndpoints, limit float64, burst int, logger *logrus.Logger) *RPCProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := rate.Inf
	if limit > 0 {
		r = rate.Limit(limit)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RPCProvider{
		endpoints: endpoints,
		limit:     r,
		burst:     burst,
		logger:    logger,
		clients:   map[int64]*limitedReader{},
		dial:      ethclient.DialContext,
	}
}

func (p *RPCProvider) Reader(ctx context.Context, chain id.Chain) (Reader, error) {
	p.clientMutex.RLock()
	existing, ok := p.clients[chain.EVMChainID]
	p.clientMutex.RUnlock()
	if ok {
		return existing, nil
	}

	p.clientMutex.Lock()
	defer p.clientMutex.Unlock()
	if existing, ok := p.clients[chain.EVMChainID]; ok {
		return existing, nil
	}
	url, err := p.endpoints.Resolve(chain.EVMChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := p.dial(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", errors.Wrapf(err, "dial %s", chain.Slug))
	}
	p.logger.WithFields(logrus.Fields{"chain": chain.Slug, "chain_id": chain.EVMChainID}).Debug("connected chain rpc")
	reader := &limitedReader{client: client, limiter: rate.NewLimiter(p.limit, p.burst)}
	p.clients[chain.EVMChainID] = reader
	return reader, nil
}

// Close releases every dialed client.
func (p *RPCProvider) Close() {
	p.clientMutex.Lock()
	defer p.clientMutex.Unlock()
	for chainID, reader := range p.clients {
		reader.client.Close()
		delete(p.clients, chainID)
	}
}

type limitedReader struct {
	client  *ethclient.Client
	limiter *rate.Limiter
}

func (r *limitedReader) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.client.CallContract(ctx, msg, blockNumber)
}

func (r *limitedReader) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.client.BalanceAt(ctx, account, blockNumber)
}

// StaticProvider serves a fixed reader for every chain.
type StaticProvider struct {
	R Reader
}

func (p StaticProvider) Reader(context.Context, id.Chain) (Reader, error) {
	if p.R == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "no chain reader configured")
	}
	return p.R, nil
}
