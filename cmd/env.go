package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schema-cli/internal/notify"
	"github.com/sells-group/schema-cli/internal/pipeline"
	"github.com/sells-group/schema-cli/internal/resilience"
	"github.com/sells-group/schema-cli/internal/rules"
	"github.com/sells-group/schema-cli/internal/store"
	"github.com/sells-group/schema-cli/internal/taxonomy"
	"github.com/sells-group/schema-cli/pkg/htmlfetch"
	"github.com/sells-group/schema-cli/pkg/pages"
	"github.com/sells-group/schema-cli/pkg/schemagen"
	"github.com/sells-group/schema-cli/pkg/schemaval"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "schema.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env bundles everything a batch run needs.
type env struct {
	store   store.Store
	catalog *taxonomy.Catalog
	orch    *pipeline.Orchestrator
	broker  *notify.Broker
}

func (e *env) Close() {
	_ = e.store.Close()
}

// initEnv opens the store, loads the taxonomy, and wires the orchestrator.
// With offline set, the external collaborators are replaced by stubs so the
// full state machine can run without a dashboard or API key.
func initEnv(ctx context.Context, offline bool) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	catalog := taxonomy.NewCatalog(st)
	if err := catalog.Reload(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	var (
		pagesClient pages.Client
		fetcher     htmlfetch.Fetcher
		generator   schemagen.Generator
		validator   schemaval.Validator
	)
	if offline {
		pagesClient = &pipeline.StubPagesClient{}
		fetcher = &pipeline.StubFetcher{}
		generator = &pipeline.StubGenerator{}
		validator = &pipeline.StubValidator{}
	} else {
		if cfg.Anthropic.Key == "" {
			st.Close() //nolint:errcheck
			return nil, eris.New("anthropic API key is required (SCHEMA_ANTHROPIC_KEY); use --offline to run with stubs")
		}
		pagesClient = pages.NewClient(cfg.Sites.DefaultBaseURL, "")
		timeout := 30 * time.Second
		if cfg.Fetch.TimeoutSecs > 0 {
			timeout = time.Duration(cfg.Fetch.TimeoutSecs) * time.Second
		}
		fetcher = htmlfetch.New(cfg.Fetch.RequestsPerSec,
			htmlfetch.WithUserAgent(cfg.Fetch.UserAgent),
			htmlfetch.WithHTTPClient(&http.Client{Timeout: timeout}))
		generator = schemagen.New(cfg.Anthropic.Key, cfg.Anthropic.Model,
			schemagen.WithMaxTokens(int64(cfg.Anthropic.MaxTokens)))
		validator, err = schemaval.New("")
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
	}

	broker := notify.NewBroker()
	orch := pipeline.New(st, rules.NewResolver(st), pagesClient, fetcher, generator, validator, broker, cfg.Sites)
	orch.SetRetry(resilience.FromRetryConfig(cfg.Fetch.MaxRetries, 0, 0, 0, -1))
	orch.SetBreakerConfig(resilience.FromCircuitConfig(cfg.Fetch.BreakerThreshold, cfg.Fetch.BreakerResetSecs))
	return &env{store: st, catalog: catalog, orch: orch, broker: broker}, nil
}
