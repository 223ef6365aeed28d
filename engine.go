package wasmop

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytecodealliance/wasmtime-go/v37"
	"golang.org/x/sync/semaphore"
	"lukechampine.com/blake3"
)

// engineContext is the single wasmtime.Engine shared by every module in the
// process. Each module instantiation builds its own Store and Linker off of
// it, closing the linker's host imports over that module's own setupContext
// rather than threading shared state through the engine itself.
type engineContext struct {
	engine *wasmtime.Engine
}

func newEngineContext() (*engineContext, error) {
	config := wasmtime.NewConfig()
	if err := config.CacheConfigLoadDefault(); err != nil {
		return nil, fmt.Errorf("loading engine cache config: %w", err)
	}
	return &engineContext{engine: wasmtime.NewEngineWithConfig(config)}, nil
}

// moduleArtifact is a module's precompiled wasmtime.Module, addressable on
// disk by the blake3 hash of its source bytes so the cache survives across
// process restarts.
type moduleArtifact struct {
	cachePath string
}

// precompile serializes the WASM bytes at wasmPath through engine and writes
// the result to a content-addressed file under cacheDir. If that file
// already exists it is reused unconditionally, per the cache's content-
// addressing guarantee: same bytes in, same artifact out.
func precompile(engine *wasmtime.Engine, wasmPath, cacheDir string) (*moduleArtifact, error) {
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", wasmPath, err)
	}

	sum := blake3.Sum256(wasmBytes)
	cacheFile := filepath.Join(cacheDir, hex.EncodeToString(sum[:])+".wasm")

	if _, err := os.Stat(cacheFile); err == nil {
		return &moduleArtifact{cachePath: cacheFile}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", cacheFile, err)
	}

	module, err := wasmtime.NewModule(engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", wasmPath, err)
	}
	serialized, err := module.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serializing %s: %w", wasmPath, err)
	}
	if err := os.WriteFile(cacheFile, serialized, 0o644); err != nil {
		return nil, fmt.Errorf("writing cache file %s: %w", cacheFile, err)
	}

	return &moduleArtifact{cachePath: cacheFile}, nil
}

// reload deserializes the artifact's cached bytes into a fresh
// wasmtime.Module against engine. Every instantiation, including the first,
// goes through this rather than keeping a live *wasmtime.Module around, so
// the on-disk cache file is always the artifact's source of truth.
func (a *moduleArtifact) reload(engine *wasmtime.Engine) (*wasmtime.Module, error) {
	cached, err := os.ReadFile(a.cachePath)
	if err != nil {
		return nil, fmt.Errorf("reading cache file %s: %w", a.cachePath, err)
	}
	module, err := wasmtime.NewModuleDeserialize(engine, cached)
	if err != nil {
		return nil, fmt.Errorf("deserializing cache file %s: %w", a.cachePath, err)
	}
	return module, nil
}

// setupContext carries everything needed to instantiate a single module's
// guest: its compiled artifact, its swap file path, its WASI argv/env, the
// ops runner it talks to, and the shared engine and permit pool.
type setupContext struct {
	name     string
	artifact *moduleArtifact
	swapPath string
	env      []string
	args     []string
	engine   *engineContext
	ops      *opsRunner
	permits  *semaphore.Weighted
	log      *log.Logger
	abilog   *log.Logger
}

// instantiateGuest builds a fresh store, WASI config, and linker for ctx,
// deserializes ctx.artifact into it, and instantiates. It does not run the
// guest's entry point; callers decide whether this is a fresh start or a
// restore.
func instantiateGuest(ctx *setupContext) (*wasmtime.Store, *wasmtime.Instance, *wasmtime.Module, *Memory, error) {
	store := wasmtime.NewStore(ctx.engine.engine)

	wasicfg := wasmtime.NewWasiConfig()
	wasicfg.InheritStdout()
	wasicfg.InheritStderr()
	wasicfg.SetArgv(append([]string{ctx.name}, ctx.args...))
	if len(ctx.env) > 0 {
		names := make([]string, 0, len(ctx.env))
		values := make([]string, 0, len(ctx.env))
		for _, kv := range ctx.env {
			name, value, _ := strings.Cut(kv, "=")
			names = append(names, name)
			values = append(values, value)
		}
		wasicfg.SetEnv(names, values)
	}
	store.SetWasi(wasicfg)

	linker := wasmtime.NewLinker(ctx.engine.engine)
	if err := linker.DefineWasi(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("defining wasi imports: %w", err)
	}
	if err := linkABI(ctx, linker); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("linking host imports: %w", err)
	}

	module, err := ctx.artifact.reload(ctx.engine.engine)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("instantiating module %s: %w", ctx.name, err)
	}

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, nil, nil, nil, fmt.Errorf("%w: module %s does not export memory", ErrContractViolation, ctx.name)
	}
	mem := &Memory{&wasmMemory{store: store, mem: memExport.Memory()}}

	return store, instance, module, mem, nil
}
