package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/samirrijal/groundsync/internal/bootstrap"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/auth"
	"github.com/samirrijal/groundsync/internal/pkg/config"
	"github.com/samirrijal/groundsync/internal/pkg/geocodec"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
)

const SyncCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `GroundSync control.

Usage:
    syncctl drain [<survey>]
    syncctl queue [<survey>] [--status=<status>...]
    syncctl failed [<survey>]
    syncctl retry <mutation>
    syncctl clear <survey> [--force]
    syncctl watch <survey>
    syncctl token <user> [--email=<email>] [--name=<name>] [--ttl=<ttl>]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --status=<status>      Only mutations with this status (pending, in_progress, complete, failed).
    --force                Discard queued edits.
    --email=<email>        Token email claim.
    --name=<name>          Token display name claim.
    --ttl=<ttl>            Token lifetime [default: 24h].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SyncCtlVersion)
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load("groundsync-ctl")
	if err != nil {
		Err.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, "text")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if drain_, _ := opts.Bool("drain"); drain_ {
		drain(ctx, cfg, opts)
	} else if queue_, _ := opts.Bool("queue"); queue_ {
		queue(ctx, cfg, opts)
	} else if failed_, _ := opts.Bool("failed"); failed_ {
		failed(ctx, cfg, opts)
	} else if retry_, _ := opts.Bool("retry"); retry_ {
		retry(ctx, cfg, opts)
	} else if clear_, _ := opts.Bool("clear"); clear_ {
		clearSurvey(ctx, cfg, opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(ctx, cfg, opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		token(cfg, opts)
	}
}

// engine opens both stores. The returned func closes them.
func engine(ctx context.Context, cfg *config.Config) (*usecases.SyncEngine, *bootstrap.Local, func()) {
	local, err := bootstrap.OpenLocal(ctx, cfg)
	if err != nil {
		Err.Fatalf("%v", err)
	}
	rem, err := bootstrap.OpenRemote(cfg)
	if err != nil {
		local.Close()
		Err.Fatalf("remote store: %v", err)
	}
	e := usecases.NewSyncEngine(local.Store, rem.Store, bootstrap.EngineConfig(cfg.Sync))
	return e, local, func() {
		rem.Close()
		local.Close()
	}
}

func openLocal(ctx context.Context, cfg *config.Config) *bootstrap.Local {
	local, err := bootstrap.OpenLocal(ctx, cfg)
	if err != nil {
		Err.Fatalf("%v", err)
	}
	return local
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		Err.Fatalf("encode: %v", err)
	}
	Out.Println(string(b))
}

func drain(ctx context.Context, cfg *config.Config, opts docopt.Opts) {
	e, _, closeAll := engine(ctx, cfg)
	defer closeAll()

	survey, _ := opts.String("<survey>")
	var (
		report domain.SyncReport
		err    error
	)
	if survey != "" {
		report, err = e.DrainSurvey(ctx, survey)
	} else {
		report, err = e.Drain(ctx)
	}
	if err != nil {
		Err.Fatalf("drain: %v", err)
	}
	printJSON(report)
	if len(report.Failed) > 0 {
		os.Exit(2)
	}
}

func queue(ctx context.Context, cfg *config.Config, opts docopt.Opts) {
	local := openLocal(ctx, cfg)
	defer local.Close()

	survey, _ := opts.String("<survey>")
	filter := domain.MutationFilter{SurveyID: survey}
	if statuses, ok := opts["--status"].([]string); ok {
		for _, s := range statuses {
			st, err := domain.ParseMutationStatus(s)
			if err != nil {
				Err.Fatalf("--status: %v", err)
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	ms, err := local.Store.PendingMutations(ctx, filter)
	if err != nil {
		Err.Fatalf("queue: %v", err)
	}
	for _, m := range ms {
		Out.Printf("%s\t%s\t%s/%s\t%s\tretries=%d\t%s", m.ID, m.Status, m.EntityType, m.EntityID, m.Operation, m.RetryCount, m.LastError)
	}
}

func failed(ctx context.Context, cfg *config.Config, opts docopt.Opts) {
	local := openLocal(ctx, cfg)
	defer local.Close()

	survey, _ := opts.String("<survey>")
	e := usecases.NewSyncEngine(local.Store, nil, bootstrap.EngineConfig(cfg.Sync))
	ms, err := e.FailedMutations(ctx, survey)
	if err != nil {
		Err.Fatalf("failed: %v", err)
	}
	printJSON(ms)
}

func retry(ctx context.Context, cfg *config.Config, opts docopt.Opts) {
	local := openLocal(ctx, cfg)
	defer local.Close()

	id, _ := opts.String("<mutation>")
	e := usecases.NewSyncEngine(local.Store, nil, bootstrap.EngineConfig(cfg.Sync))
	m, err := e.Retry(ctx, id)
	if err != nil {
		Err.Fatalf("retry: %v", err)
	}
	Out.Printf("mutation %s resubmitted for %s/%s", m.ID, m.EntityType, m.EntityID)
}

func clearSurvey(ctx context.Context, cfg *config.Config, opts docopt.Opts) {
	local := openLocal(ctx, cfg)
	defer local.Close()

	id, _ := opts.String("<survey>")
	force, _ := opts.Bool("--force")
	surveys := usecases.NewSurveyService(usecases.EditDeps{Store: local.Store}, nil, nil)
	if err := surveys.Clear(ctx, id, force); err != nil {
		Err.Fatalf("clear: %v", err)
	}
	Out.Printf("survey %s cleared", id)
}

// watch prints remote location changes until interrupted.
func watch(ctx context.Context, cfg *config.Config, opts docopt.Opts) {
	rem, err := bootstrap.OpenRemote(cfg)
	if err != nil {
		Err.Fatalf("remote store: %v", err)
	}
	defer rem.Close()

	survey, _ := opts.String("<survey>")
	events, err := rem.Store.SubscribeLocationsOfInterest(ctx, survey)
	if err != nil {
		Err.Fatalf("subscribe: %v", err)
	}
	for ev := range events {
		switch ev.Kind {
		case domain.EventError:
			Out.Printf("%s\t%v", ev.Kind, ev.Err)
		case domain.EventRemoved:
			Out.Printf("%s\t%s\tv%d", ev.Kind, ev.EntityID, ev.Version)
		default:
			g, err := geocodec.MarshalGeoJSON(ev.Entity.Geometry)
			if err != nil {
				g = []byte(fmt.Sprintf("%q", err.Error()))
			}
			Out.Printf("%s\t%s\tv%d\tjob=%s\t%s", ev.Kind, ev.EntityID, ev.Version, ev.Entity.JobID, g)
		}
	}
}

func token(cfg *config.Config, opts docopt.Opts) {
	if cfg.Auth.JWTSecret == "" {
		Err.Fatalf("auth.jwt_secret is not set")
	}
	user, _ := opts.String("<user>")
	email, _ := opts.String("--email")
	name, _ := opts.String("--name")
	ttlStr, _ := opts.String("--ttl")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		Err.Fatalf("--ttl: %v", err)
	}

	v := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	tok, err := v.Issue(domain.User{ID: user, Email: email, DisplayName: name}, ttl)
	if err != nil {
		Err.Fatalf("issue: %v", err)
	}
	Out.Println(tok)
}
