// Command wasm-operator runs the host process: it loads a directory of
// WASM controller modules, precompiles and starts them, and serves their
// outbound HTTP calls and timers until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	wasmop "github.com/idlab-discover/wasm-operator"
	"github.com/idlab-discover/wasm-operator/internal/k8sclient"
	"github.com/idlab-discover/wasm-operator/internal/modconfig"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: wasm-operator <module-directory>")
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func run(moduleDir string) error {
	modules, err := modconfig.Load(moduleDir)
	if err != nil {
		return fmt.Errorf("loading module metadata: %w", err)
	}

	client, err := k8sclient.New()
	if err != nil {
		return fmt.Errorf("building kubernetes client: %w", err)
	}
	if os.Getenv("WASM_OPERATOR_VERBOSE") == "1" {
		client.SetLogger(log.New(os.Stdout, "[k8sclient] ", log.LstdFlags))
	}

	sup, err := wasmop.NewSupervisor(
		wasmop.WithClusterClient(client, client.BaseURL()),
		wasmop.WithPredictionServer(os.Getenv("PREDICTION_SERVER")),
		wasmop.WithUninstantiate(os.Getenv("COMPILE_WITH_UNINSTANTIATE") == "TRUE"),
		wasmop.WithVerbose(os.Getenv("WASM_OPERATOR_VERBOSE") == "1"),
	)
	if err != nil {
		return fmt.Errorf("building supervisor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.StartModules(ctx, modules); err != nil {
		return fmt.Errorf("starting modules: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	return nil
}
