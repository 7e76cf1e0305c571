package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/launchpad/internal/events"
	"github.com/animus-labs/launchpad/internal/gitops"
	"github.com/animus-labs/launchpad/internal/initflow"
	"github.com/animus-labs/launchpad/internal/platform/env"
	"github.com/animus-labs/launchpad/internal/platform/k8s"
	"github.com/animus-labs/launchpad/internal/platform/natsx"
	"github.com/animus-labs/launchpad/internal/platform/objectstore"
	"github.com/animus-labs/launchpad/internal/platform/postgres"
	"github.com/animus-labs/launchpad/internal/platform/redisx"
	"github.com/animus-labs/launchpad/internal/progress"
	"github.com/animus-labs/launchpad/internal/pubsub"
	"github.com/animus-labs/launchpad/internal/queue"
	"github.com/animus-labs/launchpad/internal/repo"
	"github.com/animus-labs/launchpad/internal/repo/memstore"
	pgstore "github.com/animus-labs/launchpad/internal/repo/postgres"
	"github.com/animus-labs/launchpad/internal/scm"
	"github.com/animus-labs/launchpad/internal/service/audit"
	"github.com/animus-labs/launchpad/internal/service/environments"
	"github.com/animus-labs/launchpad/internal/service/notifications"
	"github.com/animus-labs/launchpad/internal/templates"
	"github.com/animus-labs/launchpad/internal/worker"
)

// configError marks a failure the operator fixes in the environment.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }

func (e *configError) Unwrap() error { return e.err }

func invalidConfig(what string, err error) error {
	return &configError{err: fmt.Errorf("invalid %s config: %w", what, err)}
}

type clusterMode string

const (
	clusterOff       clusterMode = "off"
	clusterInCluster clusterMode = "in-cluster"
	clusterURL       clusterMode = "url"
)

type clusterConfig struct {
	Mode      clusterMode
	URL       string
	Token     string
	Namespace string
}

func clusterConfigFromEnv() (clusterConfig, error) {
	cfg := clusterConfig{
		Mode:      clusterMode(strings.ToLower(env.Trimmed("LAUNCHPAD_K8S_MODE", string(clusterOff)))),
		URL:       env.Trimmed("LAUNCHPAD_K8S_URL", ""),
		Token:     env.Trimmed("LAUNCHPAD_K8S_TOKEN", ""),
		Namespace: env.Trimmed("LAUNCHPAD_K8S_NAMESPACE", "flux-system"),
	}
	switch cfg.Mode {
	case clusterOff, clusterInCluster:
	case clusterURL:
		if cfg.URL == "" {
			return clusterConfig{}, errors.New("LAUNCHPAD_K8S_URL is required when LAUNCHPAD_K8S_MODE=url")
		}
	default:
		return clusterConfig{}, fmt.Errorf("LAUNCHPAD_K8S_MODE must be off, in-cluster or url (got %q)", cfg.Mode)
	}
	return cfg, nil
}

func (c clusterConfig) client() (*k8s.Client, error) {
	switch c.Mode {
	case clusterInCluster:
		return k8s.NewInClusterClient()
	case clusterURL:
		return k8s.NewClient(c.URL, c.Token, c.Namespace, nil)
	default:
		return nil, nil
	}
}

type appConfig struct {
	Memory       bool
	TemplatesDir string
	ScratchDir   string
	Worker       queue.WorkerConfig
	PubSub       pubsub.Config
	SCM          scm.Config
	Cluster      clusterConfig
	ObjectStore  objectstore.Config
	Database     postgres.Config
	Redis        redisx.Config
}

// configFromEnv reads every setting. Memory mode needs no database, Redis
// or broker settings.
func configFromEnv(memory bool) (appConfig, error) {
	cfg := appConfig{
		Memory:       memory,
		TemplatesDir: env.Trimmed("LAUNCHPAD_TEMPLATES_DIR", ""),
		ScratchDir:   env.Trimmed("LAUNCHPAD_SCRATCH_DIR", ""),
	}
	var err error
	if cfg.Worker, err = queue.WorkerConfigFromEnv(); err != nil {
		return appConfig{}, invalidConfig("worker", err)
	}
	if cfg.SCM, err = scm.ConfigFromEnv(); err != nil {
		return appConfig{}, invalidConfig("scm", err)
	}
	if cfg.Cluster, err = clusterConfigFromEnv(); err != nil {
		return appConfig{}, invalidConfig("kubernetes", err)
	}
	if cfg.ObjectStore, err = objectstore.ConfigFromEnv(); err != nil {
		return appConfig{}, invalidConfig("object store", err)
	}
	if memory {
		cfg.PubSub = pubsub.Config{Backend: pubsub.BackendMemory}
		return cfg, nil
	}
	if cfg.PubSub, err = pubsub.ConfigFromEnv(); err != nil {
		return appConfig{}, invalidConfig("pubsub", err)
	}
	if cfg.Database, err = postgres.ConfigFromEnv(); err != nil {
		return appConfig{}, invalidConfig("database", err)
	}
	if cfg.Redis, err = redisx.ConfigFromEnv(); err != nil {
		return appConfig{}, invalidConfig("redis", err)
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "launchpad")
	}
	return cfg, nil
}

type stores struct {
	projects      repo.ProjectRepository
	members       repo.MemberRepository
	environments  repo.EnvironmentRepository
	repositories  repo.RepositoryRepository
	gitops        repo.GitOpsRepository
	steps         repo.StepRepository
	notifications repo.NotificationRepository
	audit         audit.Recorder
}

func memoryStores() stores {
	s := memstore.New()
	return stores{
		projects:      s.Projects(),
		members:       s.Members(),
		environments:  s.Environments(),
		repositories:  s.Repositories(),
		gitops:        s.GitOps(),
		steps:         s.Steps(),
		notifications: s.Notifications(),
		audit:         audit.NewMemory(),
	}
}

func postgresStores(db *sql.DB) stores {
	return stores{
		projects:      pgstore.NewProjectStore(db),
		members:       pgstore.NewMemberStore(db),
		environments:  pgstore.NewEnvironmentStore(db),
		repositories:  pgstore.NewRepositoryStore(db),
		gitops:        pgstore.NewGitOpsStore(db),
		steps:         pgstore.NewStepStore(db),
		notifications: pgstore.NewNotificationStore(db),
		audit:         audit.New(db),
	}
}

// app is the assembled object graph shared by the subcommands.
type app struct {
	cfg    appConfig
	logger *slog.Logger
	stores stores

	repoQueue  queue.Queue
	eventQueue queue.Queue
	broker     pubsub.Broker
	eventLog   events.Log
	publisher  *events.Publisher
	tracker    *progress.Tracker
	gitops     *gitops.Service
	scm        scm.Factory

	catalog  *templates.Catalog
	renderer *templates.Renderer
	scratch  billy.Filesystem
	uploader *templates.Uploader

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, logger *slog.Logger, memory bool) (*app, error) {
	cfg, err := configFromEnv(memory)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	var snapshots progress.SnapshotStore
	if a.cfg.Memory {
		a.stores = memoryStores()
		a.repoQueue = queue.NewMemoryQueue(worker.QueueName)
		a.eventQueue = queue.NewMemoryQueue(events.IntegrationQueue)
		a.eventLog = events.NewMemoryLog()
		snapshots = progress.NewMemorySnapshots()
	} else {
		db, err := postgres.Open(ctx, a.cfg.Database)
		if err != nil {
			return fmt.Errorf("database unavailable: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		a.stores = postgresStores(db)

		client, err := redisx.Open(ctx, a.cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis unavailable: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := a.openRedis(client); err != nil {
			return err
		}
		snapshots, err = progress.NewRedisSnapshots(client)
		if err != nil {
			return err
		}
	}
	if err := a.openBroker(); err != nil {
		return err
	}

	a.publisher = events.NewPublisher(a.eventLog, a.eventQueue, a.broker, a.logger)
	a.tracker = progress.NewTracker(a.broker, snapshots, a.logger)

	clients, err := scm.NewClients(a.cfg.SCM, nil)
	if err != nil {
		return invalidConfig("scm", err)
	}
	a.scm = clients

	cluster, err := a.cfg.Cluster.client()
	if err != nil {
		return fmt.Errorf("kubernetes unavailable: %w", err)
	}
	var c gitops.Cluster
	if cluster != nil {
		c = cluster
	}
	a.gitops = gitops.NewService(c, a.stores.gitops, a.logger)
	return a.openTemplates(ctx)
}

func (a *app) openRedis(client *redis.Client) error {
	ns := a.cfg.Redis.Namespace
	var err error
	if a.repoQueue, err = queue.NewRedisQueue(client, ns, worker.QueueName); err != nil {
		return err
	}
	if a.eventQueue, err = queue.NewRedisQueue(client, ns, events.IntegrationQueue); err != nil {
		return err
	}
	if a.eventLog, err = events.NewRedisLog(client); err != nil {
		return err
	}
	if a.cfg.PubSub.Backend == pubsub.BackendRedis {
		if a.broker, err = pubsub.NewRedisBroker(client); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) openBroker() error {
	switch a.cfg.PubSub.Backend {
	case pubsub.BackendRedis:
		if a.broker == nil {
			return errors.New("redis broker requires a redis connection")
		}
	case pubsub.BackendNATS:
		natsCfg, err := natsx.ConfigFromEnv()
		if err != nil {
			return invalidConfig("nats", err)
		}
		nc, err := natsx.Connect(natsCfg, a.logger)
		if err != nil {
			return fmt.Errorf("nats unavailable: %w", err)
		}
		a.closers = append(a.closers, nc.Close)
		if a.broker, err = pubsub.NewNATSBroker(nc); err != nil {
			return err
		}
	default:
		a.broker = pubsub.NewMemoryBroker()
	}
	broker := a.broker
	a.closers = append(a.closers, func() { _ = broker.Close() })
	return nil
}

func (a *app) openTemplates(ctx context.Context) error {
	if a.cfg.ScratchDir != "" {
		if err := os.MkdirAll(a.cfg.ScratchDir, 0o755); err != nil {
			return fmt.Errorf("create scratch dir: %w", err)
		}
		a.scratch = osfs.New(a.cfg.ScratchDir)
	} else {
		a.scratch = memfs.New()
	}
	if a.cfg.TemplatesDir != "" {
		catalog, err := templates.LoadCatalog(osfs.New(a.cfg.TemplatesDir))
		if err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
		renderer, err := templates.NewRenderer(catalog.Filesystem(), a.scratch, a.logger)
		if err != nil {
			return err
		}
		a.catalog = catalog
		a.renderer = renderer
	}
	if a.cfg.ObjectStore.Enabled {
		client, err := objectstore.NewMinIOClient(a.cfg.ObjectStore)
		if err != nil {
			return invalidConfig("object store", err)
		}
		if err := objectstore.EnsureBucket(ctx, client, a.cfg.ObjectStore); err != nil {
			return fmt.Errorf("object store unavailable: %w", err)
		}
		store, err := objectstore.NewMinioStore(client, a.cfg.ObjectStore.BucketRendered)
		if err != nil {
			return err
		}
		a.uploader = templates.NewUploader(store)
	}
	return nil
}

func (a *app) orchestrator() (*initflow.Orchestrator, error) {
	d := initflow.Deps{
		Projects:           a.stores.projects,
		Members:            a.stores.members,
		Environments:       a.stores.environments,
		Repositories:       a.stores.repositories,
		EnvironmentService: environments.New(a.stores.environments),
		Audit:              a.stores.audit,
		Notifications:      notifications.New(a.stores.notifications, a.broker, a.logger),
		Steps:              a.stores.steps,
		Scratch:            a.scratch,
		Uploader:           a.uploader,
		Repository:         a.repoQueue,
		GitOps:             a.gitops,
		Events:             a.publisher,
		Progress:           a.tracker,
		Logger:             a.logger,
	}
	// Typed nil pointers would defeat the nil checks on the interfaces.
	if a.catalog != nil {
		d.Templates = a.catalog
	}
	if a.renderer != nil {
		d.Renderer = a.renderer
	}
	return initflow.New(d)
}

func (a *app) repositoryWorker() (*queue.Worker, error) {
	w, err := queue.NewWorker(a.repoQueue, a.cfg.Worker, a.logger)
	if err != nil {
		return nil, invalidConfig("worker", err)
	}
	handlers, err := worker.NewRepository(worker.Deps{
		Projects:     a.stores.projects,
		Repositories: a.stores.repositories,
		Environments: a.stores.environments,
		SCM:          a.scm,
		GitOps:       a.gitops,
		Events:       a.publisher,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, err
	}
	handlers.Register(w)
	return w, nil
}

// eventWorker consumes the integration tier. Handlers registered on the
// publisher for a type run again here; otherwise the event is logged.
func (a *app) eventWorker() (*queue.Worker, error) {
	w, err := queue.NewWorker(a.eventQueue, a.cfg.Worker, a.logger)
	if err != nil {
		return nil, invalidConfig("worker", err)
	}
	logger := a.logger.With("component", "integration_events")
	handle := events.IntegrationHandler(func(ctx context.Context, event events.Event) error {
		logger.Info("integration event",
			"type", event.Type,
			"event_id", event.ID,
			"resource_id", event.ResourceID,
		)
		return nil
	})
	for _, eventType := range events.TypesOf(events.TierIntegration) {
		w.Handle(eventType, handle)
	}
	return w, nil
}
