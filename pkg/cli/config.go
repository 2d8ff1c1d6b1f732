package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/adapter"
	"github.com/m-mizutani/reagent/pkg/policy"
	"github.com/m-mizutani/reagent/pkg/repository"
	"github.com/m-mizutani/reagent/pkg/usecase/chat"
	"github.com/m-mizutani/reagent/pkg/usecase/identity"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
)

// config holds configuration values
type config struct {
	// Backend
	baseURL string

	// Logging
	logLevel string
	logFile  string

	// State
	stateBackend      string
	stateFile         string
	stateNamespace    string
	firestoreProject  string
	firestoreDatabase string
	gcsBucket         string
	credentialsFile   string

	// Presentation
	policyDir string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "base-url",
			Aliases:     []string{"u"},
			Usage:       "Base URL of the REAgent service",
			Value:       "http://localhost:8000",
			Sources:     cli.EnvVars("REAGENT_BASE_URL"),
			Destination: &cfg.baseURL,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "warn",
			Sources:     cli.EnvVars("REAGENT_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Write logs to the file instead of stderr",
			Sources:     cli.EnvVars("REAGENT_LOG_FILE"),
			Destination: &cfg.logFile,
		},
	}
}

// stateFlags returns flags selecting where the session identifier is kept
func stateFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "state-backend",
			Usage:       "Where to keep the session ID (file, memory, firestore, gcs)",
			Value:       "file",
			Sources:     cli.EnvVars("REAGENT_STATE_BACKEND"),
			Destination: &cfg.stateBackend,
		},
		&cli.StringFlag{
			Name:        "state-file",
			Usage:       "State file path for the file backend (default: user config dir)",
			Sources:     cli.EnvVars("REAGENT_STATE_FILE"),
			Destination: &cfg.stateFile,
		},
		&cli.StringFlag{
			Name:        "state-namespace",
			Usage:       "Namespace of the state in Firestore or Cloud Storage",
			Value:       "default",
			Sources:     cli.EnvVars("REAGENT_STATE_NAMESPACE"),
			Destination: &cfg.stateNamespace,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of the Firestore state backend",
			Sources:     cli.EnvVars("REAGENT_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("REAGENT_FIRESTORE_DATABASE"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "gcs-bucket",
			Usage:       "Cloud Storage bucket of the gcs state backend",
			Sources:     cli.EnvVars("REAGENT_GCS_BUCKET"),
			Destination: &cfg.gcsBucket,
		},
		&cli.StringFlag{
			Name:        "credentials-file",
			Usage:       "Google Cloud credentials JSON file",
			Sources:     cli.EnvVars("REAGENT_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS"),
			Destination: &cfg.credentialsFile,
		},
	}
}

// policyFlags returns flags for the preferences panel
func policyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files grouping preference categories (default: built-in)",
			Sources:     cli.EnvVars("REAGENT_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// setupLogger installs the logger into ctx. The returned function closes the
// log file.
func (cfg *config) setupLogger(ctx context.Context, stderr io.Writer) (context.Context, func(), error) {
	var (
		logger *slog.Logger
		closer = func() error { return nil }
	)

	if cfg.logFile == "" {
		logger = logging.New(cfg.logLevel, stderr)
	} else {
		l, c, err := logging.Open(cfg.logLevel, cfg.logFile)
		if err != nil {
			return ctx, func() {}, err
		}
		logger, closer = l, c
	}

	logging.SetDefault(logger)
	return logging.With(ctx, logger), func() { _ = closer() }, nil
}

// newBackend creates a new Backend adapter instance
func (cfg *config) newBackend() (adapter.Backend, error) {
	if cfg.baseURL == "" {
		return nil, goerr.New("base-url is required")
	}

	backend, err := adapter.NewBackend(cfg.baseURL, adapter.WithUserAgent("reagent-cli"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create backend")
	}
	return backend, nil
}

func (cfg *config) clientOptions() []option.ClientOption {
	if cfg.credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.credentialsFile)}
}

// newKeyValue creates the store holding the session ID. The returned function
// releases it.
func (cfg *config) newKeyValue(ctx context.Context) (repository.KeyValue, func(), error) {
	nop := func() {}

	switch cfg.stateBackend {
	case "memory":
		return repository.NewMemory(), nop, nil

	case "", "file":
		path := cfg.stateFile
		if path == "" {
			p, err := repository.DefaultFilePath()
			if err != nil {
				return nil, nop, err
			}
			path = p
		}
		kv, err := repository.NewFile(path)
		if err != nil {
			return nil, nop, goerr.Wrap(err, "failed to create file state", goerr.V("path", path))
		}
		return kv, nop, nil

	case "firestore":
		if cfg.firestoreProject == "" {
			return nil, nop, goerr.New("firestore-project is required")
		}
		kv, err := repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase, cfg.stateNamespace, cfg.clientOptions()...)
		if err != nil {
			return nil, nop, goerr.Wrap(err, "failed to create firestore state")
		}
		return kv, func() { _ = kv.Close() }, nil

	case "gcs":
		if cfg.gcsBucket == "" {
			return nil, nop, goerr.New("gcs-bucket is required")
		}
		storage, err := adapter.NewStorage(ctx, cfg.gcsBucket, "reagent/"+cfg.stateNamespace+"/", cfg.clientOptions()...)
		if err != nil {
			return nil, nop, goerr.Wrap(err, "failed to create storage")
		}
		kv := repository.NewObject(storage)
		return kv, func() { _ = kv.Close() }, nil

	default:
		return nil, nop, goerr.New("unknown state backend", goerr.V("state_backend", cfg.stateBackend))
	}
}

// newIdentity creates the identity store over the configured state backend
func (cfg *config) newIdentity(ctx context.Context) (*identity.Store, func(), error) {
	kv, closer, err := cfg.newKeyValue(ctx)
	if err != nil {
		return nil, func() {}, err
	}
	return identity.New(kv), closer, nil
}

// newGrouper loads the preferences panel policy
func (cfg *config) newGrouper(ctx context.Context) (*policy.Grouper, error) {
	grouper, err := policy.New(ctx, cfg.policyDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load panel policy")
	}
	return grouper, nil
}

// newClient wires backend, identity and view into a chat client
func (cfg *config) newClient(ctx context.Context, view chat.View) (*chat.Client, func(), error) {
	backend, err := cfg.newBackend()
	if err != nil {
		return nil, func() {}, err
	}

	ids, closer, err := cfg.newIdentity(ctx)
	if err != nil {
		return nil, func() {}, err
	}

	client, err := chat.New(ctx, chat.NewInput{
		Backend:  backend,
		Identity: ids,
		View:     view,
	})
	if err != nil {
		closer()
		return nil, func() {}, goerr.Wrap(err, "failed to create chat client")
	}
	return client, closer, nil
}
