package daemon

import (
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/meshpay/lnrouter/routing"
)

const (
	defaultDataDirname  = "data"
	defaultLogDirname   = "logs"
	defaultLogFilename  = "lnrouter.log"
	defaultLogLevel     = "info"
	defaultMaxLogFiles  = 3
	defaultMaxLogFileMB = 10
	defaultRouteWorkers = 4

	// defaultExclusionDuration is how long a channel direction stays
	// excluded from route computation after ExcludeChannel, absent any
	// per-call override.
	defaultExclusionDuration = time.Hour
)

var (
	defaultHomeDir = filepath.Join(os.Getenv("HOME"), ".lnrouter")
	defaultDataDir = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config holds every knob the daemon exposes on the command line or in its
// config file, following the same flat, tagged-struct convention the
// teacher's own CLI surface uses.
type config struct {
	DataDir string `long:"datadir" description:"The directory to store the channel graph database in"`
	LogDir  string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	MaxLogFiles  int `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileMB int `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	ChainHash string `long:"chainhash" description:"Hex-encoded genesis hash identifying the chain this graph is scoped to"`

	RouteWorkers int `long:"routeworkers" description:"Number of concurrent route-computation workers"`

	// AssumeChainHeight seeds the chain tip the pruner compares channels'
	// funding heights against. A full deployment would source this from
	// a real chain backend (e.g. neutrino); standing one up is out of
	// scope here, so the daemon takes the tip as a config value and
	// expects an operator or supervisor process to keep it current.
	AssumeChainHeight uint32 `long:"assumechainheight" description:"Chain tip to assume for stale-channel pruning, absent a real chain backend"`

	SelfNodeID string `long:"selfnodeid" description:"Hex-encoded 33-byte compressed pubkey identifying this node's own channels"`

	Routing *routing.Conf `group:"Routing" namespace:"routing"`
}

// defaultConfig returns a config populated with the same defaults the
// teacher's flag definitions fall back to absent a config file or CLI
// override.
func defaultConfig() *config {
	return &config{
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		MaxLogFiles:  defaultMaxLogFiles,
		MaxLogFileMB: defaultMaxLogFileMB,
		RouteWorkers: defaultRouteWorkers,
		Routing:      &routing.Conf{},
	}
}

// loadConfig parses the command line into a config seeded with defaults. It
// returns a *flags.Error with Type == flags.ErrHelp when -h/--help was
// requested, matching what cmd/lnd checks for.
func loadConfig(args []string) (*config, error) {
	cfg := defaultConfig()

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	return cfg, nil
}
