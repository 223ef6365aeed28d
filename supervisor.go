package wasmop

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/idlab-discover/wasm-operator/internal/modconfig"
)

// Supervisor is the one-per-process root: it owns the shared WASM engine,
// precompiles modules, allocates client IDs, and throttles concurrent live
// guests behind a permit pool.
type Supervisor struct {
	engine *engineContext

	cacheDir string
	swapDir  string

	cluster string
	client  ClusterClient

	predictionServer string
	uninstantiate    bool

	permits *semaphore.Weighted

	nextClientID atomic.Uint64

	log    *log.Logger
	abilog *log.Logger

	mu      sync.Mutex
	modules map[string]*ModuleEventLoop
}

// NewSupervisor builds a Supervisor. WithClusterClient must be among opts.
func NewSupervisor(opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		cacheDir: filepath.Join(os.TempDir(), "cache"),
		swapDir:  filepath.Join(os.TempDir(), "swap"),
		log:      log.New(io.Discard, "[wasm-operator] ", log.LstdFlags),
		abilog:   log.New(io.Discard, "[wasm-operator abi] ", log.LstdFlags),
		modules:  make(map[string]*ModuleEventLoop),
	}

	for _, o := range opts {
		o(s)
	}

	if s.client == nil {
		return nil, fmt.Errorf("%w: no cluster client configured (use WithClusterClient)", ErrContractViolation)
	}

	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	if err := os.MkdirAll(s.swapDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating swap dir: %w", err)
	}

	engine, err := newEngineContext()
	if err != nil {
		return nil, fmt.Errorf("building engine: %w", err)
	}
	s.engine = engine

	poolSize := int64(defaultPoolSizeResident)
	if s.uninstantiate {
		poolSize = defaultPoolSizeSnapshotting
	}
	s.permits = semaphore.NewWeighted(poolSize)

	return s, nil
}

// StartModules precompiles every module's WASM artifact, up to
// maxConcurrentPrecompiles in parallel, then spawns one event loop per
// module that compiled successfully. A module that fails to precompile or
// to spawn is logged and skipped; the rest continue.
func (s *Supervisor) StartModules(ctx context.Context, modules []modconfig.Module) error {
	artifacts := make([]*moduleArtifact, len(modules))
	errs := make([]error, len(modules))

	sem := make(chan struct{}, maxConcurrentPrecompiles)
	var wg sync.WaitGroup
	for i, m := range modules {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, m modconfig.Module) {
			defer wg.Done()
			defer func() { <-sem }()
			artifact, err := precompile(s.engine.engine, m.Wasm, s.cacheDir)
			if err != nil {
				errs[i] = fmt.Errorf("precompiling %s: %w", m.Name, err)
				return
			}
			artifacts[i] = artifact
		}(i, m)
	}
	wg.Wait()

	for i, m := range modules {
		if errs[i] != nil {
			s.log.Printf("skipping module %s: %v", m.Name, errs[i])
			continue
		}
		if err := s.spawn(ctx, m, artifacts[i]); err != nil {
			s.log.Printf("skipping module %s: %v", m.Name, err)
		}
	}

	return nil
}

func (s *Supervisor) spawn(ctx context.Context, m modconfig.Module, artifact *moduleArtifact) error {
	clientID := s.nextClientID.Add(1)
	swapPath := filepath.Join(s.swapDir, fmt.Sprintf("worker_%d_mem.bin", clientID))

	env := make([]string, 0, len(m.Env))
	for _, kv := range m.Env {
		env = append(env, kv.Name+"="+kv.Value)
	}

	ops := newOpsRunner(m.Name, s.cluster, s.client, s.log)

	setup := &setupContext{
		name:     m.Name,
		artifact: artifact,
		swapPath: swapPath,
		env:      env,
		args:     m.Args,
		engine:   s.engine,
		ops:      ops,
		permits:  s.permits,
		log:      s.log,
		abilog:   s.abilog,
	}

	guest := newGuestInstance(setup)

	var predictor *predictorClient
	if s.predictionServer != "" {
		predictor = newPredictorClient(s.predictionServer)
	}

	loop := &ModuleEventLoop{
		name:         m.Name,
		guest:        guest,
		ops:          ops,
		predictor:    predictor,
		snapshotting: s.uninstantiate,
		log:          s.log,
	}

	s.mu.Lock()
	s.modules[m.Name] = loop
	s.mu.Unlock()

	go func() {
		if err := loop.Run(ctx); err != nil {
			s.log.Printf("module %s stopped: %v", m.Name, err)
		}
	}()

	return nil
}
