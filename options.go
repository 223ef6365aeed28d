package wasmop

import "os"

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithClusterClient sets the Kubernetes client service every module
// forwards requests through, and the cluster's base URL used to rewrite
// guest request paths onto. Required; NewSupervisor errors without one.
func WithClusterClient(client ClusterClient, baseURL string) Option {
	return func(s *Supervisor) {
		s.client = client
		s.cluster = baseURL
	}
}

// WithPredictionServer sets the base URL of the idle-time predictor. If
// unset, modules never restore ahead of a predicted event; every restore
// waits for a real event to arrive.
func WithPredictionServer(url string) Option {
	return func(s *Supervisor) { s.predictionServer = url }
}

// WithUninstantiate enables snapshot/restore: idle modules are
// uninstantiated and the active-guest permit pool shrinks to the smaller,
// snapshotting-enabled capacity.
func WithUninstantiate(enabled bool) Option {
	return func(s *Supervisor) { s.uninstantiate = enabled }
}

// WithDirectories overrides the default cache/swap directories, which
// otherwise live under os.TempDir().
func WithDirectories(cacheDir, swapDir string) Option {
	return func(s *Supervisor) {
		s.cacheDir = cacheDir
		s.swapDir = swapDir
	}
}

// WithVerbose routes both the operational and ABI-trace loggers to stdout
// instead of discarding their output.
func WithVerbose(enabled bool) Option {
	return func(s *Supervisor) {
		if enabled {
			s.log.SetOutput(os.Stdout)
			s.abilog.SetOutput(os.Stdout)
		}
	}
}
